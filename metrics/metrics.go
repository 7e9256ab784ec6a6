// Package metrics defines the event/latency recording contract for the
// gateway, with prometheus and no-op implementations.
package metrics

import "time"

// Recorder receives gateway events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, d time.Duration, labels map[string]string)
}

// Noop discards all observations.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string)                  {}
func (Noop) ObserveLatency(string, time.Duration, map[string]string) {}
