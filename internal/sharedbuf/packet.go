package sharedbuf

// MessageType is the kind of payload a MediaPacket carries.
type MessageType int

// message types.
const (
	MessageAudio MessageType = iota
	MessageVideo
	MessageScript
)

func (t MessageType) String() string {
	switch t {
	case MessageAudio:
		return "audio"
	case MessageVideo:
		return "video"
	case MessageScript:
		return "script"
	default:
		return "unknown"
	}
}

// MediaPacket is the unit of exchange inside the core: a timestamped,
// typed reference into a refcounted Buffer. Copying a MediaPacket (via
// Clone) bumps the Buffer's refcount so multiple consumers can hold
// independent references to the same payload without copying bytes.
type MediaPacket struct {
	Timestamp   int64 // protocol timebase, typically milliseconds
	Type        MessageType
	StreamID    uint32
	Payload     *Buffer
	IsKeyFrame  bool // only meaningful for MessageVideo
	IsSeqHeader bool // AAC/AVC/HEVC sequence header (ASC / SPS+PPS+VPS)
	Marker      bool // RTP marker bit; only meaningful between webrtcconn and internal/bridge
}

// New allocates a MediaPacket wrapping data in a freshly-retained Buffer.
func New(ts int64, typ MessageType, streamID uint32, data []byte) *MediaPacket {
	return &MediaPacket{
		Timestamp: ts,
		Type:      typ,
		StreamID:  streamID,
		Payload:   Wrap(data),
	}
}

// Clone returns a MediaPacket sharing the same Buffer (refcount
// bumped) but with an independent copy of the scalar fields, so a
// per-consumer jitter corrector can rewrite Timestamp without
// affecting other holders.
func (p *MediaPacket) Clone() *MediaPacket {
	cp := *p
	cp.Payload = p.Payload.Retain()
	return &cp
}

// Release drops this holder's reference to the payload.
func (p *MediaPacket) Release() {
	p.Payload.Release()
}
