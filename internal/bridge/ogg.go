package bridge

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ffmpeg has no raw elementary-stream demuxer for Opus (only Ogg/WebM
// containers carry it), so the Opus leg of the transcoder wraps each
// RTP payload in a minimal single-segment Ogg page on the way in and
// unwraps pages the same way on the way out. This is a reduced Ogg
// implementation: one packet per page, no multiplexing, no lacing
// across pages — enough for a single continuous Opus elementary
// stream piped straight into ffmpeg's own Ogg demuxer.
var oggCRCTable = crc32.MakeTable(0x04c11db7)

const (
	oggHeaderHasOpusHead = "OpusHead"
	oggHeaderHasOpusTags = "OpusTags"
)

type oggWriter struct {
	w           *bufio.Writer
	serial      uint32
	seq         uint32
	granulePos  uint64
	wroteHeader bool
}

func newOggWriter(w *bufio.Writer, serial uint32) *oggWriter {
	return &oggWriter{w: w, serial: serial}
}

// writeHeader emits the two mandatory Ogg/Opus identification pages
// (RFC 7845 §5.1/§5.2) once, ahead of any audio packets.
func (o *oggWriter) writeHeader(sampleRate uint32, channels uint8) error {
	head := make([]byte, 19)
	copy(head, oggHeaderHasOpusHead)
	head[8] = 1 // version
	head[9] = channels
	binary.LittleEndian.PutUint16(head[10:], 0)           // pre-skip
	binary.LittleEndian.PutUint32(head[12:], sampleRate)
	binary.LittleEndian.PutUint16(head[16:], 0)           // output gain
	head[18] = 0                                          // channel mapping family
	if err := o.writePage(head, true, false); err != nil {
		return err
	}

	tags := make([]byte, 8+4+4)
	copy(tags, oggHeaderHasOpusTags)
	binary.LittleEndian.PutUint32(tags[8:], 0)  // vendor string length
	binary.LittleEndian.PutUint32(tags[12:], 0) // comment count
	if err := o.writePage(tags, false, false); err != nil {
		return err
	}
	o.wroteHeader = true
	return nil
}

// WritePacket wraps one Opus packet (one RTP payload, 20ms of audio)
// in its own Ogg page.
func (o *oggWriter) WritePacket(packet []byte, samples uint64) error {
	o.granulePos += samples
	return o.writePage(packet, false, false)
}

func (o *oggWriter) writePage(payload []byte, isFirst, isLast bool) error {
	var headerType byte
	if isFirst {
		headerType |= 0x02
	}
	if isLast {
		headerType |= 0x04
	}

	segs := segmentTable(len(payload))
	header := make([]byte, 27+len(segs))
	copy(header, "OggS")
	header[4] = 0 // version
	header[5] = headerType
	binary.LittleEndian.PutUint64(header[6:], o.granulePos)
	binary.LittleEndian.PutUint32(header[14:], o.serial)
	binary.LittleEndian.PutUint32(header[18:], o.seq)
	o.seq++
	header[26] = byte(len(segs))
	copy(header[27:], segs)

	page := append(header, payload...)
	binary.LittleEndian.PutUint32(page[22:], 0)
	crc := crc32.Checksum(page, oggCRCTable)
	binary.LittleEndian.PutUint32(page[22:], crc)

	if _, err := o.w.Write(page); err != nil {
		return err
	}
	return o.w.Flush()
}

// segmentTable lays out an Ogg lacing table for a single packet,
// splitting it into 255-byte segments terminated by one short (or
// zero-length) segment, per RFC 3533 §6.
func segmentTable(n int) []byte {
	segs := make([]byte, 0, n/255+1)
	for n >= 255 {
		segs = append(segs, 255)
		n -= 255
	}
	segs = append(segs, byte(n))
	return segs
}

// oggReader extracts Opus packets back out of ffmpeg's Ogg output.
// It skips the two header pages and returns every subsequent page's
// payload concatenated across its laced segments.
type oggReader struct {
	r            *bufio.Reader
	sawOpusHead  bool
}

func newOggReader(r *bufio.Reader) *oggReader {
	return &oggReader{r: r}
}

// ReadPacket returns the next Opus packet, skipping OpusHead/OpusTags
// identification pages transparently.
func (o *oggReader) ReadPacket() ([]byte, error) {
	for {
		payload, err := o.readPage()
		if err != nil {
			return nil, err
		}
		if !o.sawOpusHead && len(payload) >= 8 && string(payload[:8]) == oggHeaderHasOpusHead {
			o.sawOpusHead = true
			continue
		}
		if len(payload) >= 8 && string(payload[:8]) == oggHeaderHasOpusTags {
			continue
		}
		return payload, nil
	}
}

func (o *oggReader) readPage() ([]byte, error) {
	var magic [4]byte
	if _, err := fullRead(o.r, magic[:]); err != nil {
		return nil, err
	}
	if string(magic[:]) != "OggS" {
		return nil, fmt.Errorf("bridge: ogg: bad capture pattern")
	}

	rest := make([]byte, 23)
	if _, err := fullRead(o.r, rest); err != nil {
		return nil, err
	}
	numSegs := int(rest[22])

	segTable := make([]byte, numSegs)
	if _, err := fullRead(o.r, segTable); err != nil {
		return nil, err
	}

	total := 0
	for _, s := range segTable {
		total += int(s)
	}
	payload := make([]byte, total)
	if _, err := fullRead(o.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func fullRead(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
