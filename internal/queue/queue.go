// Package queue is the durable delayed-job queue feeding the notification
// worker. Jobs carry the spawn instant they were scheduled for; the worker
// re-validates that instant against the entity store before acting, so a
// job that survives a reschedule is harmless.
package queue

import (
	"context"
	"errors"
	"time"

	"bossbot/internal/domain"
)

// ErrUnavailable wraps backend transport failures. Callers log it with the
// boss id and attempted target instant; entity-store state is not rolled
// back (the next tick or manual action self-heals the gap).
var ErrUnavailable = errors.New("job queue unavailable")

// Job is one pending notification.
type Job struct {
	// ID is stable per boss and kind ("a:<bossID>" / "s:<bossID>"), so a
	// re-enqueue naturally supersedes the previous job at the queue level.
	ID       string
	Kind     domain.JobKind
	BossID   string
	BossName string

	// TargetSpawnAt is the stale-check token: it must equal the boss's
	// current NextSpawnAt at execution time or the job is discarded.
	TargetSpawnAt time.Time
}

// AlertJobID returns the stable alert-job identity for a boss.
func AlertJobID(bossID string) string { return "a:" + bossID }

// SpawnJobID returns the stable spawn-job identity for a boss.
func SpawnJobID(bossID string) string { return "s:" + bossID }

// Queue is the durable delayed-job backend.
type Queue interface {
	// Enqueue stores the job to fire at fireAt, replacing any pending job
	// with the same ID.
	Enqueue(ctx context.Context, j Job, fireAt time.Time) error

	// Cancel removes a pending job by ID. Cancelling a job that does not
	// exist is not an error.
	Cancel(ctx context.Context, jobID string) error

	// PopDue atomically claims up to limit jobs due at or before now.
	// A claimed job is removed from the queue; delivery is at-least-once
	// from the caller's perspective.
	PopDue(ctx context.Context, now time.Time, limit int) ([]Job, error)

	Close() error
}
