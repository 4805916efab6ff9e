package conf

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/relaycore/relaycore/internal/logger"
)

// LogLevel is logger.Level unmarshaled from its lowercase YAML name.
type LogLevel logger.Level

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *LogLevel) UnmarshalYAML(value *yaml.Node) error {
	var in string
	if err := value.Decode(&in); err != nil {
		return err
	}

	switch in {
	case "debug":
		*d = LogLevel(logger.Debug)
	case "info":
		*d = LogLevel(logger.Info)
	case "warn":
		*d = LogLevel(logger.Warn)
	case "error":
		*d = LogLevel(logger.Error)
	default:
		return fmt.Errorf("invalid log level: '%s'", in)
	}

	return nil
}

// LogDestination is logger.Destination unmarshaled from its lowercase
// YAML name.
type LogDestination logger.Destination

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *LogDestination) UnmarshalYAML(value *yaml.Node) error {
	var in string
	if err := value.Decode(&in); err != nil {
		return err
	}

	switch in {
	case "stdout":
		*d = LogDestination(logger.DestinationStdout)
	case "file":
		*d = LogDestination(logger.DestinationFile)
	default:
		return fmt.Errorf("invalid log destination: '%s'", in)
	}

	return nil
}
