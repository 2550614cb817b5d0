// Package metrics records operational counters for the tick loop and the
// notification worker.
package metrics

import "time"

// Sink receives observations. All methods are fire-and-forget:
// implementations must not block or propagate errors.
type Sink interface {
	// Tick loop.
	TickStarted()
	TickCompleted(duration time.Duration, rescheduled int, err error)

	// Worker.
	JobClaimed(kind string)
	JobStale(kind string)
	JobDelivered(kind string, duration time.Duration)
	JobFailed(kind string)

	// Queue health.
	QueueUnavailable()
}

// Job kind labels.
const (
	KindAlert = "alert"
	KindSpawn = "spawn"
)
