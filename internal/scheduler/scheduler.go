// Package scheduler keeps the durable queue in sync with a boss's
// authoritative next-spawn instant: at most one pending alert job and one
// pending spawn job per boss, always carrying the latest computed time.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"bossbot/internal/domain"
	"bossbot/internal/queue"
	"bossbot/pkg/logx"
)

// DefaultAlertLead is how long before the spawn the alert notification fires.
const DefaultAlertLead = 10 * time.Minute

type Scheduler struct {
	q         queue.Queue
	log       logx.Logger
	alertLead time.Duration

	now func() time.Time
}

func New(q queue.Queue, log logx.Logger, alertLead time.Duration) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if alertLead <= 0 {
		alertLead = DefaultAlertLead
	}
	return &Scheduler{q: q, log: log, alertLead: alertLead, now: time.Now}
}

// ScheduleJobs replaces the boss's pending jobs with a fresh alert/spawn
// pair targeting nextSpawnAt.
//
// A nextSpawnAt at or before now schedules nothing: existing jobs are
// cancelled and the call returns, so no job fires immediately with a stale
// payload. Cancellation of each old job is best-effort; the stale-check at
// execution time covers anything that survives. Enqueue failures surface as
// queue.ErrUnavailable.
func (s *Scheduler) ScheduleJobs(ctx context.Context, bossID, bossName string, nextSpawnAt time.Time) error {
	now := s.now()

	if !nextSpawnAt.After(now) {
		s.log.Debug("next spawn not in the future, clearing jobs",
			logx.String("boss_id", bossID),
			logx.Time("next_spawn_at", nextSpawnAt))
		s.CancelJobs(ctx, bossID)
		return nil
	}

	// Cancel before enqueue so there is no window with both an old and a
	// new job pending under different targets.
	s.CancelJobs(ctx, bossID)

	alertDelay := nextSpawnAt.Add(-s.alertLead).Sub(now)
	if alertDelay < 0 {
		alertDelay = 0
	}
	spawnDelay := nextSpawnAt.Sub(now)

	alert := queue.Job{
		ID:            queue.AlertJobID(bossID),
		Kind:          domain.JobAlert,
		BossID:        bossID,
		BossName:      bossName,
		TargetSpawnAt: nextSpawnAt,
	}
	if err := s.q.Enqueue(ctx, alert, now.Add(alertDelay)); err != nil {
		return fmt.Errorf("schedule alert for boss %s (target %s): %w",
			bossID, nextSpawnAt.Format(time.RFC3339), err)
	}

	spawn := alert
	spawn.ID = queue.SpawnJobID(bossID)
	spawn.Kind = domain.JobSpawn
	if err := s.q.Enqueue(ctx, spawn, now.Add(spawnDelay)); err != nil {
		return fmt.Errorf("schedule spawn for boss %s (target %s): %w",
			bossID, nextSpawnAt.Format(time.RFC3339), err)
	}

	s.log.Info("jobs scheduled",
		logx.String("boss_id", bossID),
		logx.String("boss", bossName),
		logx.Time("next_spawn_at", nextSpawnAt),
		logx.Duration("alert_in", alertDelay),
		logx.Duration("spawn_in", spawnDelay))
	return nil
}

// CancelJobs removes the boss's pending alert and spawn jobs. Each removal
// is independently fallible: a failure is logged and does not abort the
// batch or escalate (correctness rests on the execution-time stale check).
func (s *Scheduler) CancelJobs(ctx context.Context, bossID string) {
	for _, id := range []string{queue.AlertJobID(bossID), queue.SpawnJobID(bossID)} {
		if err := s.q.Cancel(ctx, id); err != nil {
			s.log.Warn("failed to cancel pending job",
				logx.String("boss_id", bossID),
				logx.String("job_id", id),
				logx.Err(err))
		}
	}
}
