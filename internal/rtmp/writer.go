package rtmp

import (
	"io"
)

// ChunkWriter serializes Messages back into the RTMP chunk stream
// using fmt=0 headers for the first chunk of a message and fmt=3 for
// continuation chunks, always on a fixed chunk-stream-id per message
// type (2=control, 3=command, 4=audio, 5=video — following SRS's
// convention so packet captures line up with a reference server).
type ChunkWriter struct {
	w         io.Writer
	chunkSize uint32
}

// NewChunkWriter allocates a ChunkWriter over w.
func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{w: w, chunkSize: defaultChunkSize}
}

// SetChunkSize applies a locally-configured chunk size and emits the
// corresponding Set Chunk Size control message.
func (c *ChunkWriter) SetChunkSize(size uint32) error {
	msg := &Message{ChunkStreamID: 2, TypeID: TypeSetChunkSize, Payload: beU32(size)}
	if err := c.WriteMessage(msg); err != nil {
		return err
	}
	c.chunkSize = size
	return nil
}

func beU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// WriteMessage chunks and writes a single message as one call to the
// underlying writer's Write (not yet batched with others — see
// WriteBatch for merged-write).
func (c *ChunkWriter) WriteMessage(msg *Message) error {
	buf := c.encode(msg)
	_, err := c.w.Write(buf)
	return err
}

// WriteBatch encodes and concatenates up to len(msgs) messages into a
// single underlying Write call — the merged-write optimization from
// spec.md §4.4/§9: "the send path batches up to K packets per syscall".
// Used by the RTMP play loop with K = mw_msgs.
func (c *ChunkWriter) WriteBatch(msgs []*Message) error {
	var out []byte
	for _, m := range msgs {
		out = append(out, c.encode(m)...)
	}
	_, err := c.w.Write(out)
	return err
}

func (c *ChunkWriter) encode(msg *Message) []byte {
	var out []byte

	header := make([]byte, 0, 12)
	header = append(header, byte(0)<<6|byte(msg.ChunkStreamID&0x3f))
	ts := msg.Timestamp
	extTs := ts >= 0xffffff
	tsField := ts
	if extTs {
		tsField = 0xffffff
	}
	header = append(header,
		byte(tsField>>16), byte(tsField>>8), byte(tsField),
		byte(len(msg.Payload)>>16), byte(len(msg.Payload)>>8), byte(len(msg.Payload)),
		msg.TypeID,
		byte(msg.MessageStreamID), byte(msg.MessageStreamID>>8), byte(msg.MessageStreamID>>16), byte(msg.MessageStreamID>>24),
	)
	if extTs {
		header = append(header, byte(ts>>24), byte(ts>>16), byte(ts>>8), byte(ts))
	}
	out = append(out, header...)

	payload := msg.Payload
	first := true
	for len(payload) > 0 {
		n := int(c.chunkSize)
		if n > len(payload) {
			n = len(payload)
		}
		if !first {
			out = append(out, byte(3)<<6|byte(msg.ChunkStreamID&0x3f))
			if extTs {
				out = append(out, byte(ts>>24), byte(ts>>16), byte(ts>>8), byte(ts))
			}
		}
		out = append(out, payload[:n]...)
		payload = payload[n:]
		first = false
	}

	return out
}
