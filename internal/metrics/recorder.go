// Package metrics defines the build metrics recorder abstraction.
package metrics

import "time"

// Recorder receives build observability signals. Implementations must be safe
// for concurrent use.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome string)
	AddRenderedDocuments(n int)
	AddFailedDocuments(n int)
}

// Noop is a Recorder that discards everything.
type Noop struct{}

func (Noop) ObserveStageDuration(string, time.Duration) {}
func (Noop) ObserveBuildDuration(time.Duration)         {}
func (Noop) IncBuildOutcome(string)                     {}
func (Noop) AddRenderedDocuments(int)                   {}
func (Noop) AddFailedDocuments(int)                     {}
