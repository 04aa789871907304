// Package flow implements the guided configuration conversation: the phase
// catalog, the resolution of conditional prompts and transitions, the mapping
// of oracle extractions onto configuration fields and the phase machine that
// ties them to the store and the oracle.
package flow

import "github.com/spapperi/configurator/internal/models"

// Text is a prompt or format description that is either fixed or computed
// from the configuration collected so far.
type Text struct {
	static      string
	conditional func(data models.ConfigurationData) string
}

// Static returns a Text that always resolves to s.
func Static(s string) Text {
	return Text{static: s}
}

// Conditional returns a Text resolved by fn. fn must be pure.
func Conditional(fn func(data models.ConfigurationData) string) Text {
	return Text{conditional: fn}
}

// IsConditional reports whether the text depends on collected data.
func (t Text) IsConditional() bool {
	return t.conditional != nil
}

// Resolve returns the concrete text for data.
func (t Text) Resolve(data models.ConfigurationData) string {
	if t.conditional != nil {
		return t.conditional(data)
	}
	return t.static
}
