package flvtag

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// FLV-tag-shaped audio payload layout (byte0 sound format/rate/size/
// type, byte1 AAC packet type, rest ASC or raw AAC), the same
// convention internal/rtmpconn reads/writes.
const (
	SoundFormatAAC  = 10
	SoundFormatMLaw = 7 // this core's FLV-tag convention for G.711 mu-law
	SoundFormatALaw = 8 // this core's FLV-tag convention for G.711 A-law

	aacPacketTypeSeqHeader = 0
	aacPacketTypeRaw       = 1
)

// BuildAudioSeqHeaderTag wraps an AudioSpecificConfig in the FLV audio
// tag's sequence-header shape.
func BuildAudioSeqHeaderTag(asc []byte) []byte {
	out := make([]byte, 2, 2+len(asc))
	out[0] = SoundFormatAAC<<4 | 3<<2 | 1<<1 | 1 // 44.1kHz/16-bit/stereo fields are cosmetic, ASC carries the truth
	out[1] = aacPacketTypeSeqHeader
	return append(out, asc...)
}

// BuildAudioRawTag wraps one raw (ADTS header stripped) AAC access
// unit in the FLV audio tag's raw-frame shape.
func BuildAudioRawTag(au []byte) []byte {
	out := make([]byte, 2, 2+len(au))
	out[0] = SoundFormatAAC<<4 | 3<<2 | 1<<1 | 1
	out[1] = aacPacketTypeRaw
	return append(out, au...)
}

// BuildG711Tag wraps one G.711-encoded audio frame (8kHz mono is
// GB28181's convention) with no sequence-header concept — G.711 carries
// no out-of-band config, every frame is self-describing.
func BuildG711Tag(mulaw bool, samples []byte) []byte {
	format := byte(SoundFormatALaw)
	if mulaw {
		format = SoundFormatMLaw
	}
	out := make([]byte, 2, 2+len(samples))
	out[0] = format<<4 | 0<<2 | 0<<1 | 0 // 5.5kHz/8-bit/mono placeholders; decoder uses format alone
	out[1] = 0
	return append(out, samples...)
}

// ParseAudioTag reports whether tag is a sequence header and returns
// its payload (ASC bytes, a raw AAC access unit, or raw G.711 samples).
func ParseAudioTag(tag []byte) (isSeqHeader bool, payload []byte, err error) {
	if len(tag) < 2 {
		return false, nil, fmt.Errorf("flvtag: audio tag too short")
	}
	format := tag[0] >> 4
	if format == SoundFormatMLaw || format == SoundFormatALaw {
		return false, tag[2:], nil
	}
	return tag[1] == aacPacketTypeSeqHeader, tag[2:], nil
}

// AudioSoundFormat reports the FLV sound format nibble a tag carries,
// so a consumer that needs to branch on codec (rather than just on
// sequence-header-vs-raw) can do so without re-deriving the field.
func AudioSoundFormat(tag []byte) (byte, error) {
	if len(tag) < 1 {
		return 0, fmt.Errorf("flvtag: audio tag too short")
	}
	return tag[0] >> 4, nil
}

// ParseAudioSpecificConfig decodes the raw ASC bytes a sequence-header
// tag carries back into a mpeg4audio.Config.
func ParseAudioSpecificConfig(asc []byte) (mpeg4audio.Config, error) {
	var cfg mpeg4audio.Config
	if err := cfg.Unmarshal(asc); err != nil {
		return mpeg4audio.Config{}, fmt.Errorf("flvtag: decode AudioSpecificConfig: %w", err)
	}
	return cfg, nil
}

// ADTSToConfigAndFrames strips ADTS framing off a TS AAC PES payload
// (which may carry more than one ADTS frame back to back) and reports
// the AAC config the frames share, grounded on the ADTS unmarshal
// usage in bluenviron-mediamtx/internal/hls/mpegts/tracks.go.
func ADTSToConfigAndFrames(data []byte) (mpeg4audio.Config, [][]byte, error) {
	var pkts mpeg4audio.ADTSPackets
	if err := pkts.Unmarshal(data); err != nil {
		return mpeg4audio.Config{}, nil, fmt.Errorf("flvtag: decode ADTS: %w", err)
	}
	if len(pkts) == 0 {
		return mpeg4audio.Config{}, nil, fmt.Errorf("flvtag: empty ADTS payload")
	}

	cfg := mpeg4audio.Config{
		Type:         pkts[0].Type,
		SampleRate:   pkts[0].SampleRate,
		ChannelCount: pkts[0].ChannelCount,
	}
	frames := make([][]byte, len(pkts))
	for i, p := range pkts {
		frames[i] = p.AU
	}
	return cfg, frames, nil
}
