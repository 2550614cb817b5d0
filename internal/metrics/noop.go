package metrics

import "time"

// NoopSink discards all observations. Used when metrics are disabled so
// callers never nil-check.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (n *NoopSink) TickStarted()                                                     {}
func (n *NoopSink) TickCompleted(duration time.Duration, rescheduled int, err error) {}
func (n *NoopSink) JobClaimed(kind string)                                           {}
func (n *NoopSink) JobStale(kind string)                                             {}
func (n *NoopSink) JobDelivered(kind string, duration time.Duration)                 {}
func (n *NoopSink) JobFailed(kind string)                                            {}
func (n *NoopSink) QueueUnavailable()                                                {}
