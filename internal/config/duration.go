package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts either a Go duration string ("90s", "15m") or an integer
// number of seconds in YAML.
type Duration time.Duration

// Std converts to the standard library type.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asString string
	if err := node.Decode(&asString); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}

	if parsed, err := time.ParseDuration(asString); err == nil {
		*d = Duration(parsed)
		return nil
	}

	seconds, err := strconv.ParseInt(asString, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", asString)
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
