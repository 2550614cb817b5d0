// Package worker drains the job queue and keeps fixed-time bosses on
// their calendar. It is the only component that sends notifications.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bossbot/internal/cronx"
	"bossbot/internal/domain"
	"bossbot/internal/metrics"
	"bossbot/internal/queue"
	"bossbot/internal/respawn"
	"bossbot/internal/store"
	"bossbot/pkg/logx"
)

const (
	defaultPollInterval = time.Second
	defaultTickInterval = time.Minute
	// defaultTolerance absorbs sub-second jitter between what the tick
	// loop computed last pass and what it computes now, so rules are not
	// re-queued every minute.
	defaultTolerance = 30 * time.Second

	popBatch = 32
)

// Announcer delivers the two notification kinds.
type Announcer interface {
	Alert(ctx context.Context, gameID, bossName string, spawnAt time.Time) error
	Spawn(ctx context.Context, gameID, bossName string, spawnAt time.Time) error
}

// Jobs is the scheduler surface the tick loop needs.
type Jobs interface {
	ScheduleJobs(ctx context.Context, bossID, bossName string, nextSpawnAt time.Time) error
}

type Config struct {
	PollInterval time.Duration
	TickInterval time.Duration
	Tolerance    time.Duration
}

type Worker struct {
	q     queue.Queue
	store store.Store
	calc  *respawn.Calculator
	jobs  Jobs
	ann   Announcer
	log   logx.Logger
	sink  metrics.Sink

	poll      time.Duration
	tick      time.Duration
	tolerance time.Duration

	now func() time.Time
}

func New(q queue.Queue, st store.Store, calc *respawn.Calculator, jobs Jobs, ann Announcer, log logx.Logger, sink metrics.Sink, cfg Config) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	w := &Worker{
		q: q, store: st, calc: calc, jobs: jobs, ann: ann,
		log: log, sink: sink,
		poll:      cfg.PollInterval,
		tick:      cfg.TickInterval,
		tolerance: cfg.Tolerance,
		now:       time.Now,
	}
	if w.poll <= 0 {
		w.poll = defaultPollInterval
	}
	if w.tick <= 0 {
		w.tick = defaultTickInterval
	}
	if w.tolerance <= 0 {
		w.tolerance = defaultTolerance
	}
	return w
}

// Run blocks until ctx is cancelled, draining due jobs and walking the
// calendar rules.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		logx.Duration("poll", w.poll),
		logx.Duration("tick", w.tick),
		logx.Duration("tolerance", w.tolerance))

	pollT := time.NewTicker(w.poll)
	defer pollT.Stop()
	tickT := time.NewTicker(w.tick)
	defer tickT.Stop()

	// One calendar pass up front so a restart does not wait a full tick.
	w.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return ctx.Err()
		case <-pollT.C:
			w.drainDue(ctx)
		case <-tickT.C:
			w.runTick(ctx)
		}
	}
}

// Resync re-enqueues jobs for every boss that still has a future cached
// spawn. The queue survives restarts on its own; this covers jobs lost to
// a flushed or replaced backend.
func (w *Worker) Resync(ctx context.Context) error {
	games, err := w.store.ListGames(ctx)
	if err != nil {
		return fmt.Errorf("list games: %w", err)
	}
	now := w.now()
	n := 0
	for _, g := range games {
		bosses, err := w.store.ListBosses(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("list bosses for %s: %w", g.Code, err)
		}
		for _, b := range bosses {
			if b.NextSpawnAt == nil || !b.NextSpawnAt.After(now) {
				continue
			}
			if err := w.jobs.ScheduleJobs(ctx, b.ID, b.Name, *b.NextSpawnAt); err != nil {
				w.sink.QueueUnavailable()
				w.log.Warn("resync failed for boss",
					logx.String("boss", b.Name), logx.Err(err))
				continue
			}
			n++
		}
	}
	w.log.Info("job queue resynced", logx.Int("bosses", n))
	return nil
}

func (w *Worker) drainDue(ctx context.Context) {
	jobs, err := w.q.PopDue(ctx, w.now(), popBatch)
	if err != nil {
		w.sink.QueueUnavailable()
		w.log.Warn("queue poll failed", logx.Err(err))
		return
	}
	for _, j := range jobs {
		w.handleJob(ctx, j)
	}
}

// handleJob re-validates the claimed job against the store before acting.
// The carried target must still equal the boss's NextSpawnAt; anything else
// means the job was superseded after being queued and it is dropped without
// noise.
func (w *Worker) handleJob(ctx context.Context, j queue.Job) {
	kind := string(j.Kind)
	w.sink.JobClaimed(kind)
	start := w.now()

	b, err := w.store.GetBoss(ctx, j.BossID)
	if errors.Is(err, store.ErrNotFound) {
		w.sink.JobStale(kind)
		w.log.Debug("job for deleted boss dropped", logx.String("job_id", j.ID))
		return
	}
	if err != nil {
		w.sink.JobFailed(kind)
		w.log.Warn("boss lookup failed", logx.String("job_id", j.ID), logx.Err(err))
		return
	}
	if b.NextSpawnAt == nil || !b.NextSpawnAt.Equal(j.TargetSpawnAt) {
		w.sink.JobStale(kind)
		w.log.Debug("stale job dropped",
			logx.String("job_id", j.ID),
			logx.Time("carried", j.TargetSpawnAt))
		return
	}

	switch j.Kind {
	case domain.JobAlert:
		err = w.ann.Alert(ctx, b.GameID, b.Name, j.TargetSpawnAt)
	case domain.JobSpawn:
		err = w.ann.Spawn(ctx, b.GameID, b.Name, j.TargetSpawnAt)
	default:
		err = fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if err != nil {
		w.sink.JobFailed(kind)
		w.log.Warn("notification failed",
			logx.String("job_id", j.ID),
			logx.String("boss", b.Name),
			logx.Err(err))
		return
	}

	if j.Kind == domain.JobSpawn {
		if n, err := w.store.CompleteJobLogs(ctx, b.ID, j.Kind, j.TargetSpawnAt); err != nil {
			w.log.Warn("job log completion failed", logx.String("boss_id", b.ID), logx.Err(err))
		} else if n > 0 {
			w.log.Debug("job log completed", logx.String("boss_id", b.ID), logx.Int64("rows", n))
		}
	}
	w.sink.JobDelivered(kind, w.now().Sub(start))
}

func (w *Worker) runTick(ctx context.Context) {
	w.sink.TickStarted()
	start := w.now()
	n, err := w.tickPass(ctx, start)
	w.sink.TickCompleted(w.now().Sub(start), n, err)
	if err != nil {
		w.log.Warn("tick pass failed", logx.Err(err))
	}
}

// tickPass walks every enabled calendar rule and re-anchors bosses whose
// upcoming occurrence drifted from what was last prepared. Returns how many
// rules were (re)scheduled. A single rule failing never stops the pass.
func (w *Worker) tickPass(ctx context.Context, now time.Time) (int, error) {
	rules, err := w.store.ListEnabledRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list enabled rules: %w", err)
	}

	rescheduled := 0
	for _, r := range rules {
		next, err := cronx.Next(cronx.Rule{Expr: r.Expr, TZ: r.TZ}, now)
		if err != nil {
			w.log.Warn("calendar rule skipped",
				logx.String("rule_id", r.ID),
				logx.String("expr", r.Expr),
				logx.Err(err))
			continue
		}
		if r.NextPreparedAt != nil && absDiff(next, *r.NextPreparedAt) <= w.tolerance {
			continue
		}

		b, err := w.store.GetBoss(ctx, r.BossID)
		if err != nil {
			w.log.Warn("rule points at missing boss",
				logx.String("rule_id", r.ID),
				logx.String("boss_id", r.BossID),
				logx.Err(err))
			continue
		}
		// The boss-level anchor is the earliest occurrence across all of
		// its enabled rules, not necessarily this rule's.
		bossNext, err := w.calc.NextSpawn(b, now)
		if err != nil {
			w.log.Warn("next spawn computation failed",
				logx.String("boss_id", b.ID), logx.Err(err))
			continue
		}

		if err := w.store.SetNextSpawn(ctx, b.ID, &bossNext); err != nil {
			w.log.Warn("spawn update failed", logx.String("boss_id", b.ID), logx.Err(err))
			continue
		}
		if err := w.jobs.ScheduleJobs(ctx, b.ID, b.Name, bossNext); err != nil {
			w.sink.QueueUnavailable()
			w.log.Warn("reschedule failed", logx.String("boss_id", b.ID), logx.Err(err))
			continue
		}
		if err := w.store.SetRulePrepared(ctx, r.ID, next); err != nil {
			w.log.Warn("prepared marker update failed",
				logx.String("rule_id", r.ID), logx.Err(err))
			continue
		}
		rescheduled++
		w.log.Info("calendar occurrence prepared",
			logx.String("boss", b.Name),
			logx.String("rule_id", r.ID),
			logx.Time("next", next))
	}
	return rescheduled, nil
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}
