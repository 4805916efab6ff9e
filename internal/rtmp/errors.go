package rtmp

import "errors"

// Wire protocol failure errors (spec.md §7 "Wire protocol failure").
var (
	ErrUnsupportedHandshakeVersion = errors.New("rtmp: unsupported handshake version")
	ErrChunkTooLarge               = errors.New("rtmp: message exceeds configured max size")
	ErrInvalidChunkStreamID        = errors.New("rtmp: invalid chunk stream id")
	ErrInvalidFMT                  = errors.New("rtmp: invalid chunk basic header fmt")
	ErrAlreadyPublishing           = errors.New("rtmp: stream conflict: already publishing")
)
