package bridge

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// direction selects which way audio flows through one ffmpeg child
// process; each Transcoder instance handles exactly one direction for
// the lifetime of a bridge, grounded on the restart-on-exit process
// supervision internal/externalcmd already uses for the `on_*` hooks
// (here adapted to keep stdin/stdout piped instead of inherited).
type direction int

const (
	opusToAAC direction = iota
	aacToOpus
)

// transcoder shells out to ffmpeg to cross audio codecs spec.md §4.5
// names but this core carries no in-process codec for (Opus, AAC).
// Opus only exists in an Ogg container on ffmpeg's side (see ogg.go);
// AAC is piped as a raw ADTS elementary stream, which ffmpeg's "adts"
// muxer/demuxer read and write without a container.
type transcoder struct {
	dir    direction
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	oggW *oggWriter
	oggR *oggReader
}

func newTranscoder(dir direction, sampleRate int, channels int) (*transcoder, error) {
	var args []string
	switch dir {
	case opusToAAC:
		args = []string{"-hide_banner", "-loglevel", "error",
			"-f", "ogg", "-i", "pipe:0",
			"-c:a", "aac", "-f", "adts", "pipe:1"}
	case aacToOpus:
		args = []string{"-hide_banner", "-loglevel", "error",
			"-f", "adts", "-i", "pipe:0",
			"-c:a", "libopus", "-ar", strconv.Itoa(sampleRate), "-ac", strconv.Itoa(channels),
			"-f", "ogg", "pipe:1"}
	default:
		return nil, fmt.Errorf("bridge: unknown transcode direction")
	}

	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: start ffmpeg: %w", err)
	}

	t := &transcoder{dir: dir, cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}
	if dir == opusToAAC {
		t.oggW = newOggWriter(bufio.NewWriter(stdin), 1)
		if err := t.oggW.writeHeader(uint32(sampleRate), uint8(channels)); err != nil {
			return nil, err
		}
	} else {
		t.oggR = newOggReader(t.stdout)
	}
	return t, nil
}

// WriteOpusPacket feeds one Opus RTP payload (20ms) into the
// Opus→AAC direction.
func (t *transcoder) WriteOpusPacket(packet []byte) error {
	return t.oggW.WritePacket(packet, 960) // 20ms @ 48kHz
}

// ReadAACFrame returns the next raw (ADTS-stripped) AAC access unit
// produced by the Opus→AAC direction, and the config it was encoded
// with.
func (t *transcoder) ReadAACFrame() ([]byte, mpeg4audio.Config, error) {
	return readADTSFrame(t.stdout)
}

// WriteAACFrame feeds one raw AAC access unit into the AAC→Opus
// direction, wrapping it in an ADTS header first (ffmpeg's "adts"
// demuxer needs the framing back).
func (t *transcoder) WriteAACFrame(au []byte, cfg mpeg4audio.Config) error {
	hdr, err := adtsHeader(au, cfg)
	if err != nil {
		return err
	}
	if _, err := t.stdin.Write(hdr); err != nil {
		return err
	}
	_, err = t.stdin.Write(au)
	return err
}

// ReadOpusPacket returns the next Opus packet produced by the
// AAC→Opus direction.
func (t *transcoder) ReadOpusPacket() ([]byte, error) {
	return t.oggR.ReadPacket()
}

func (t *transcoder) Close() {
	t.stdin.Close()
	_ = t.cmd.Wait()
}

// adtsHeader builds the 7-byte (no CRC) ADTS header mpeg4audio.Config
// describes, the inverse of what ADTSPackets.Unmarshal parses in
// internal/flvtag.ADTSToConfigAndFrames.
func adtsHeader(au []byte, cfg mpeg4audio.Config) ([]byte, error) {
	sri, err := sampleRateIndex(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	frameLen := len(au) + 7

	h := make([]byte, 7)
	h[0] = 0xff
	h[1] = 0xf1 // syncword cont'd, MPEG-4, layer=00, no CRC
	h[2] = byte(cfg.Type-1)<<6 | sri<<2 | byte(cfg.ChannelCount>>2)&0x01
	h[3] = byte(cfg.ChannelCount&0x03)<<6 | byte(frameLen>>11)&0x03
	h[4] = byte(frameLen >> 3)
	h[5] = byte(frameLen&0x07)<<5 | 0x1f
	h[6] = 0xfc
	return h, nil
}

var adtsSampleRates = []int{96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350}

func sampleRateIndex(rate int) (byte, error) {
	for i, r := range adtsSampleRates {
		if r == rate {
			return byte(i), nil
		}
	}
	return 0, fmt.Errorf("bridge: unsupported AAC sample rate %d", rate)
}

// readADTSFrame peeks one ADTS header off r to learn the frame length,
// then reads exactly that much — the streaming counterpart of
// internal/flvtag.ADTSToConfigAndFrames, which needs its whole input
// buffered up front and so can't read directly off a live ffmpeg pipe.
func readADTSFrame(r *bufio.Reader) ([]byte, mpeg4audio.Config, error) {
	hdr, err := r.Peek(7)
	if err != nil {
		return nil, mpeg4audio.Config{}, err
	}
	if hdr[0] != 0xff || hdr[1]&0xf0 != 0xf0 {
		return nil, mpeg4audio.Config{}, fmt.Errorf("bridge: lost ADTS sync")
	}

	sri := (hdr[2] >> 2) & 0x0f
	if int(sri) >= len(adtsSampleRates) {
		return nil, mpeg4audio.Config{}, fmt.Errorf("bridge: invalid ADTS sample rate index")
	}
	channels := int(hdr[2]&0x01)<<2 | int(hdr[3]>>6)
	frameLen := int(hdr[3]&0x03)<<11 | int(hdr[4])<<3 | int(hdr[5])>>5

	buf := make([]byte, frameLen)
	if _, err := fullRead(r, buf); err != nil {
		return nil, mpeg4audio.Config{}, err
	}

	cfg := mpeg4audio.Config{
		Type:         mpeg4audio.ObjectType((hdr[2]>>6)&0x03) + 1,
		SampleRate:   adtsSampleRates[sri],
		ChannelCount: channels,
	}
	return buf[7:], cfg, nil
}
