// Package rtmpconn drives one accepted RTMP TCP connection through
// handshake, connect_app, identify_client and into a publish or play
// pipeline wired to a source.Source.
package rtmpconn

import (
	"fmt"

	"github.com/relaycore/relaycore/internal/bitio"
	"github.com/relaycore/relaycore/internal/rtmp"
)

func rtmpAMFWriter() *bitio.Writer {
	return bitio.NewWriter()
}

// command is a decoded AMF0 command message: name, transaction id,
// the command object (may be nil) and any trailing arguments.
type command struct {
	name string
	txID float64
	obj  *rtmp.AMF0Object
	args []interface{}
}

func decodeCommand(payload []byte) (*command, error) {
	values, err := rtmp.DecodeAMF0Values(payload)
	if err != nil {
		return nil, fmt.Errorf("rtmpconn: decoding command: %w", err)
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("rtmpconn: command message too short")
	}

	name, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("rtmpconn: command name is not a string")
	}
	txID, _ := values[1].(float64)

	c := &command{name: name, txID: txID}
	if len(values) > 2 {
		if obj, ok := values[2].(*rtmp.AMF0Object); ok {
			c.obj = obj
		}
	}
	if len(values) > 3 {
		c.args = values[3:]
	}
	return c, nil
}

func encodeReplyResult(txID float64, props *rtmp.AMF0Object, info *rtmp.AMF0Object) ([]byte, error) {
	return encodeCommandValues("_result", txID, props, info)
}

func encodeOnStatus(txID float64, info *rtmp.AMF0Object) ([]byte, error) {
	return encodeCommandValues("onStatus", txID, nil, info)
}

func encodeCommandValues(name string, txID float64, values ...interface{}) ([]byte, error) {
	w := rtmpAMFWriter()
	if err := rtmp.EncodeAMF0(w, name); err != nil {
		return nil, err
	}
	if err := rtmp.EncodeAMF0(w, txID); err != nil {
		return nil, err
	}
	for _, v := range values {
		if v == nil {
			if err := rtmp.EncodeAMF0(w, nil); err != nil {
				return nil, err
			}
			continue
		}
		if err := rtmp.EncodeAMF0(w, v); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func statusInfo(level, code, description string) *rtmp.AMF0Object {
	o := &rtmp.AMF0Object{}
	o.Set("level", level)
	o.Set("code", code)
	o.Set("description", description)
	return o
}
