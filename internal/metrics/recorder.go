// Package metrics records conversation flow metrics.
package metrics

import "time"

// Recorder receives flow events. Implementations must be safe for concurrent use.
type Recorder interface {
	// ObserveAnswer counts one processed answer. outcome is advanced,
	// clarification or fault.
	ObserveAnswer(phase, outcome string)
	// ObserveOracle records the duration of one oracle call.
	ObserveOracle(provider, status string, duration time.Duration)
	// ObserveMappingGaps counts values missing from an accepted extraction.
	ObserveMappingGaps(phase string, gaps int)
	// ObserveCompletion counts a conversation reaching the terminal phase.
	ObserveCompletion(interested bool)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) ObserveAnswer(string, string)                {}
func (NopRecorder) ObserveOracle(string, string, time.Duration) {}
func (NopRecorder) ObserveMappingGaps(string, int)              {}
func (NopRecorder) ObserveCompletion(bool)                      {}
