package conf

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration unmarshaled from a YAML string such as
// "10s" or "1m30s" instead of a bare integer of nanoseconds.
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var in string
	if err := value.Decode(&in); err != nil {
		return err
	}

	du, err := time.ParseDuration(in)
	if err != nil {
		return err
	}

	*d = Duration(du)
	return nil
}
