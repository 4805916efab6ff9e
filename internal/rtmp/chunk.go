package rtmp

import (
	"context"
	"io"
)

// Message is a fully reassembled RTMP message (the chunk stream exists
// only to interleave these over one TCP connection).
type Message struct {
	ChunkStreamID uint32
	Timestamp     uint32
	TypeID        uint8
	MessageStreamID uint32
	Payload       []byte
}

// RTMP message type ids relevant to the core (command/data/audio/video).
const (
	TypeAudio      uint8 = 8
	TypeVideo      uint8 = 9
	TypeAMF0Data   uint8 = 18
	TypeAMF0Cmd    uint8 = 20
	TypeSetChunkSize uint8 = 1
	TypeAck        uint8 = 3
	TypeWinAckSize uint8 = 5
	TypeSetPeerBW  uint8 = 6
	TypeUserControl uint8 = 4
)

const defaultChunkSize = 128

type chunkStreamState struct {
	lastTimestamp   uint32
	lastDelta       uint32
	lastMessageLen  uint32
	lastTypeID      uint8
	lastMessageSID  uint32
	partial         []byte
	remaining       uint32
}

// ChunkReader reassembles RTMP messages out of the chunk stream read
// from r. It keeps one chunkStreamState per chunk-stream-id, exactly
// as SRS's srs_protocol_rtmp_stack reassembles interleaved chunks.
type ChunkReader struct {
	r         io.Reader
	chunkSize uint32
	states    map[uint32]*chunkStreamState
	buf       []byte
}

// NewChunkReader allocates a ChunkReader over r.
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{
		r:         r,
		chunkSize: defaultChunkSize,
		states:    make(map[uint32]*chunkStreamState),
	}
}

// SetChunkSize applies a peer-negotiated chunk size (via a received
// Set Chunk Size control message).
func (c *ChunkReader) SetChunkSize(size uint32) {
	c.chunkSize = size
}

func (c *ChunkReader) readN(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := readFullCtx(ctx, c.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadMessage reads and reassembles the next complete RTMP message,
// consuming as many chunks as needed across calls that may span
// multiple chunk-stream-ids interleaved on the wire.
func (c *ChunkReader) ReadMessage(ctx context.Context, maxMessageSize uint32) (*Message, error) {
	for {
		basic, err := c.readN(ctx, 1)
		if err != nil {
			return nil, err
		}
		fmtID := basic[0] >> 6
		csid := uint32(basic[0] & 0x3f)

		switch csid {
		case 0:
			ext, err := c.readN(ctx, 1)
			if err != nil {
				return nil, err
			}
			csid = 64 + uint32(ext[0])
		case 1:
			ext, err := c.readN(ctx, 2)
			if err != nil {
				return nil, err
			}
			csid = 64 + uint32(ext[0]) + uint32(ext[1])*256
		}

		state, ok := c.states[csid]
		if !ok {
			state = &chunkStreamState{}
			c.states[csid] = state
		}

		if err := c.readMessageHeader(ctx, fmtID, state); err != nil {
			return nil, err
		}

		if state.remaining == 0 {
			state.remaining = state.lastMessageLen
			state.partial = make([]byte, 0, state.lastMessageLen)
		}

		if state.lastMessageLen > maxMessageSize {
			return nil, ErrChunkTooLarge
		}

		toRead := state.remaining
		if toRead > c.chunkSize {
			toRead = c.chunkSize
		}

		data, err := c.readN(ctx, int(toRead))
		if err != nil {
			return nil, err
		}
		state.partial = append(state.partial, data...)
		state.remaining -= toRead

		if state.remaining == 0 {
			msg := &Message{
				ChunkStreamID:   csid,
				Timestamp:       state.lastTimestamp,
				TypeID:          state.lastTypeID,
				MessageStreamID: state.lastMessageSID,
				Payload:         state.partial,
			}
			state.partial = nil
			return msg, nil
		}
	}
}

func (c *ChunkReader) readMessageHeader(ctx context.Context, fmtID byte, state *chunkStreamState) error {
	switch fmtID {
	case 0:
		b, err := c.readN(ctx, 11)
		if err != nil {
			return err
		}
		ts := u24(b[0:3])
		state.lastMessageLen = u24(b[3:6])
		state.lastTypeID = b[6]
		state.lastMessageSID = u32le(b[7:11])
		if ts == 0xffffff {
			ext, err := c.readN(ctx, 4)
			if err != nil {
				return err
			}
			ts = u32be(ext)
		}
		state.lastTimestamp = ts
		state.lastDelta = 0

	case 1:
		b, err := c.readN(ctx, 7)
		if err != nil {
			return err
		}
		delta := u24(b[0:3])
		state.lastMessageLen = u24(b[3:6])
		state.lastTypeID = b[6]
		if delta == 0xffffff {
			ext, err := c.readN(ctx, 4)
			if err != nil {
				return err
			}
			delta = u32be(ext)
		}
		state.lastDelta = delta
		state.lastTimestamp += delta

	case 2:
		b, err := c.readN(ctx, 3)
		if err != nil {
			return err
		}
		delta := u24(b[0:3])
		if delta == 0xffffff {
			ext, err := c.readN(ctx, 4)
			if err != nil {
				return err
			}
			delta = u32be(ext)
		}
		state.lastDelta = delta
		state.lastTimestamp += delta

	case 3:
		// reuses everything from the previous chunk on this csid;
		// extended timestamp is still present if the previous header
		// declared one.
		state.lastTimestamp += state.lastDelta

	default:
		return ErrInvalidFMT
	}
	return nil
}

func u24(b []byte) uint32  { return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]) }
func u32be(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func u32le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
