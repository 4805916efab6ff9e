package rtmp

import (
	"errors"
	"math"

	"github.com/relaycore/relaycore/internal/bitio"
)

// AMF0 marker bytes (ISO/IEC-ish, as used by the RTMP command channel).
const (
	amf0Number      = 0x00
	amf0Boolean     = 0x01
	amf0String      = 0x02
	amf0Object      = 0x03
	amf0Null        = 0x05
	amf0Undefined   = 0x06
	amf0EcmaArray   = 0x08
	amf0ObjectEnd   = 0x09
	amf0StrictArray = 0x0a
)

// ErrAMF0Malformed is returned when an AMF0 value cannot be decoded.
var ErrAMF0Malformed = errors.New("rtmp: malformed amf0 value")

// AMF0Object is a decoded AMF0 "object" or "ecma array": an ordered
// list of key/value pairs (ordered because SRS-compatible onStatus
// bodies are sensitive to field order for some clients).
type AMF0Object struct {
	Keys   []string
	Values []interface{}
}

// Get returns the value for key, or nil if absent.
func (o *AMF0Object) Get(key string) interface{} {
	for i, k := range o.Keys {
		if k == key {
			return o.Values[i]
		}
	}
	return nil
}

// Set appends or overwrites key.
func (o *AMF0Object) Set(key string, val interface{}) {
	for i, k := range o.Keys {
		if k == key {
			o.Values[i] = val
			return
		}
	}
	o.Keys = append(o.Keys, key)
	o.Values = append(o.Values, val)
}

// DecodeAMF0Values decodes as many consecutive AMF0 values as fit in buf.
func DecodeAMF0Values(buf []byte) ([]interface{}, error) {
	r := bitio.NewReader(buf)
	var out []interface{}
	for r.Remaining() > 0 {
		v, err := decodeAMF0Value(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeAMF0Value(r *bitio.Reader) (interface{}, error) {
	marker, err := r.U8()
	if err != nil {
		return nil, err
	}

	switch marker {
	case amf0Number:
		b, err := r.Bytes(8)
		if err != nil {
			return nil, err
		}
		bits := uint64(0)
		for _, bb := range b {
			bits = bits<<8 | uint64(bb)
		}
		return math.Float64frombits(bits), nil

	case amf0Boolean:
		b, err := r.U8()
		if err != nil {
			return nil, err
		}
		return b != 0, nil

	case amf0String:
		return decodeAMF0RawString(r)

	case amf0Null, amf0Undefined:
		return nil, nil

	case amf0Object:
		return decodeAMF0Object(r)

	case amf0EcmaArray:
		if _, err := r.U32BE(); err != nil { // associative-array count, unreliable, ignored
			return nil, err
		}
		return decodeAMF0Object(r)

	case amf0StrictArray:
		count, err := r.U32BE()
		if err != nil {
			return nil, err
		}
		arr := make([]interface{}, 0, count)
		for i := uint32(0); i < count; i++ {
			v, err := decodeAMF0Value(r)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil

	default:
		return nil, ErrAMF0Malformed
	}
}

func decodeAMF0RawString(r *bitio.Reader) (string, error) {
	n, err := r.U16BE()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeAMF0Object(r *bitio.Reader) (*AMF0Object, error) {
	obj := &AMF0Object{}
	for {
		key, err := decodeAMF0RawString(r)
		if err != nil {
			return nil, err
		}

		marker, err := r.U8()
		if err != nil {
			return nil, err
		}
		if marker == amf0ObjectEnd {
			return obj, nil
		}

		// rewind one byte so decodeAMF0Value can consume the marker
		// itself: Reader has no unread, so reconstruct via a fresh
		// sub-reader over the remainder including the marker.
		val, err := decodeAMF0ValueWithMarker(r, marker)
		if err != nil {
			return nil, err
		}
		obj.Set(key, val)
	}
}

// decodeAMF0ValueWithMarker decodes a value whose marker byte has
// already been consumed by the caller (used inside object parsing,
// where the key/marker pair is read together).
func decodeAMF0ValueWithMarker(r *bitio.Reader, marker uint8) (interface{}, error) {
	switch marker {
	case amf0Number:
		b, err := r.Bytes(8)
		if err != nil {
			return nil, err
		}
		bits := uint64(0)
		for _, bb := range b {
			bits = bits<<8 | uint64(bb)
		}
		return math.Float64frombits(bits), nil
	case amf0Boolean:
		b, err := r.U8()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case amf0String:
		return decodeAMF0RawString(r)
	case amf0Null, amf0Undefined:
		return nil, nil
	case amf0Object:
		return decodeAMF0Object(r)
	case amf0EcmaArray:
		if _, err := r.U32BE(); err != nil {
			return nil, err
		}
		return decodeAMF0Object(r)
	default:
		return nil, ErrAMF0Malformed
	}
}

// EncodeAMF0 appends the AMF0 encoding of v to w.
func EncodeAMF0(w *bitio.Writer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		w.WriteU8(amf0Null)
	case bool:
		w.WriteU8(amf0Boolean)
		if val {
			w.WriteU8(1)
		} else {
			w.WriteU8(0)
		}
	case float64:
		w.WriteU8(amf0Number)
		bits := math.Float64bits(val)
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(bits >> (56 - 8*i))
		}
		w.WriteBytes(tmp[:])
	case int:
		return EncodeAMF0(w, float64(val))
	case string:
		w.WriteU8(amf0String)
		encodeAMF0RawString(w, val)
	case *AMF0Object:
		w.WriteU8(amf0Object)
		for i, k := range val.Keys {
			encodeAMF0RawString(w, k)
			if err := EncodeAMF0(w, val.Values[i]); err != nil {
				return err
			}
		}
		encodeAMF0RawString(w, "")
		w.WriteU8(amf0ObjectEnd)
	default:
		return ErrAMF0Malformed
	}
	return nil
}

func encodeAMF0RawString(w *bitio.Writer, s string) {
	w.WriteU16BE(uint16(len(s)))
	w.WriteBytes([]byte(s))
}
