package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML durations written the Go way ("500ms", "5s") as well
// as bare numbers, which are taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asString string
	if err := node.Decode(&asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var asSeconds float64
	if err := node.Decode(&asSeconds); err == nil {
		*d = Duration(asSeconds * float64(time.Second))
		return nil
	}
	return fmt.Errorf("invalid duration at line %d", node.Line)
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }
