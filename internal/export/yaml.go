package export

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// RenderYAML renders the machine-readable snapshot of the conversation and
// its configuration.
func RenderYAML(s Snapshot) ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return out, nil
}
