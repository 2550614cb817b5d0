// Package service implements the tracker's write operations: deaths,
// resets, boss and rule management. It owns the ordering between the
// entity store and the job queue.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bossbot/internal/cronx"
	"bossbot/internal/domain"
	"bossbot/internal/respawn"
	"bossbot/internal/store"
	"bossbot/pkg/logx"
)

// Jobs is the slice of the scheduler the service needs.
type Jobs interface {
	ScheduleJobs(ctx context.Context, bossID, bossName string, nextSpawnAt time.Time) error
	CancelJobs(ctx context.Context, bossID string)
}

type Service struct {
	store store.Store
	calc  *respawn.Calculator
	jobs  Jobs
	log   logx.Logger

	now func() time.Time
}

func New(st store.Store, calc *respawn.Calculator, jobs Jobs, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: st, calc: calc, jobs: jobs, log: log, now: time.Now}
}

// RecordDeath persists a death and the next spawn computed from it, then
// replaces the boss's pending jobs.
//
// A boss with no rules and no hour offset has no computable spawn: the
// death is still recorded, pending jobs are cancelled, and (nil, nil) is
// returned. Store state is written before the queue is touched and is not
// rolled back on queue failure; the caller sees the queue error and the
// next write self-heals the jobs.
func (s *Service) RecordDeath(ctx context.Context, bossID string, deathAt time.Time) (*time.Time, error) {
	b, err := s.store.GetBoss(ctx, bossID)
	if err != nil {
		return nil, err
	}

	next, err := s.calc.NextSpawn(b, deathAt)
	if errors.Is(err, respawn.ErrNoComputableSpawn) {
		if err := s.store.SetDeath(ctx, b.ID, deathAt, nil); err != nil {
			return nil, err
		}
		s.jobs.CancelJobs(ctx, b.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.SetDeath(ctx, b.ID, deathAt, &next); err != nil {
		return nil, err
	}
	s.logJobs(ctx, b.ID, next)
	if err := s.jobs.ScheduleJobs(ctx, b.ID, b.Name, next); err != nil {
		return &next, err
	}
	return &next, nil
}

// ResetBoss clears the boss's death and cached spawn plus its pending jobs.
func (s *Service) ResetBoss(ctx context.Context, bossID string) error {
	if err := s.store.SetSpawnState(ctx, bossID, nil, nil); err != nil {
		return err
	}
	s.jobs.CancelJobs(ctx, bossID)
	return nil
}

// ResetAllDaily marks every daily boss of the game spawnable right now,
// forgetting recorded deaths and dropping pending jobs. Fixed-time bosses
// are untouched: their next spawn follows the calendar regardless of
// resets. Returns how many bosses were reset.
func (s *Service) ResetAllDaily(ctx context.Context, gameID string) (int, error) {
	bosses, err := s.store.ListBosses(ctx, gameID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	n := 0
	for _, b := range bosses {
		if b.Fixed() {
			continue
		}
		if err := s.store.SetSpawnState(ctx, b.ID, nil, &now); err != nil {
			return n, err
		}
		s.jobs.CancelJobs(ctx, b.ID)
		n++
	}
	s.log.Info("daily bosses reset", logx.String("game_id", gameID), logx.Int("count", n))
	return n, nil
}

// ImportEntry is one line of a bulk death import.
type ImportEntry struct {
	Name    string
	DeathAt time.Time
}

// BulkImport records a batch of deaths by boss name. Unknown names and
// per-boss failures are skipped and reported back; the batch never aborts
// halfway.
func (s *Service) BulkImport(ctx context.Context, gameID string, entries []ImportEntry) (applied int, skipped []string, err error) {
	for _, e := range entries {
		b, err := s.store.GetBossByName(ctx, gameID, e.Name)
		if err != nil {
			s.log.Warn("import entry skipped", logx.String("name", e.Name), logx.Err(err))
			skipped = append(skipped, e.Name)
			continue
		}
		if _, err := s.RecordDeath(ctx, b.ID, e.DeathAt); err != nil {
			s.log.Warn("import entry failed", logx.String("name", e.Name), logx.Err(err))
			skipped = append(skipped, e.Name)
			continue
		}
		applied++
	}
	return applied, skipped, nil
}

// AddBoss creates a boss under the game. Name collisions within a game are
// rejected by the store's unique constraint.
func (s *Service) AddBoss(ctx context.Context, gameID, name string, respawnHours int) (*domain.Boss, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("boss name is empty")
	}
	if respawnHours < 0 {
		return nil, fmt.Errorf("respawn hours must not be negative, got %d", respawnHours)
	}
	b := domain.Boss{
		ID:           uuid.NewString(),
		GameID:       gameID,
		Name:         name,
		RespawnHours: respawnHours,
	}
	if err := s.store.CreateBoss(ctx, b); err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBoss removes the boss, its rules and its pending jobs.
func (s *Service) DeleteBoss(ctx context.Context, bossID string) error {
	s.jobs.CancelJobs(ctx, bossID)
	return s.store.DeleteBoss(ctx, bossID)
}

// AddRule attaches a calendar rule to a boss and reschedules it from now:
// adding a rule makes the boss fixed-time immediately, not at its next
// death.
func (s *Service) AddRule(ctx context.Context, bossID, expr, tz string) (*domain.CalendarRule, error) {
	if err := cronx.Validate(cronx.Rule{Expr: expr, TZ: tz}); err != nil {
		return nil, err
	}
	b, err := s.store.GetBoss(ctx, bossID)
	if err != nil {
		return nil, err
	}
	r := domain.CalendarRule{
		ID:      uuid.NewString(),
		GameID:  b.GameID,
		BossID:  bossID,
		Expr:    expr,
		TZ:      tz,
		Enabled: true,
	}
	if err := s.store.AddRule(ctx, r); err != nil {
		return nil, err
	}
	b.Rules = append(b.Rules, r)
	if err := s.reschedule(ctx, b); err != nil {
		return &r, err
	}
	return &r, nil
}

// RemoveRule deletes a rule and reschedules the boss from what remains.
func (s *Service) RemoveRule(ctx context.Context, bossID, ruleID string) error {
	if err := s.store.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	return s.rescheduleByID(ctx, bossID)
}

// ToggleRule flips a rule on or off and reschedules the boss.
func (s *Service) ToggleRule(ctx context.Context, bossID, ruleID string, enabled bool) error {
	if err := s.store.SetRuleEnabled(ctx, ruleID, enabled); err != nil {
		return err
	}
	return s.rescheduleByID(ctx, bossID)
}

func (s *Service) rescheduleByID(ctx context.Context, bossID string) error {
	b, err := s.store.GetBoss(ctx, bossID)
	if err != nil {
		return err
	}
	return s.reschedule(ctx, b)
}

// reschedule recomputes the boss's next spawn from the current wall clock
// (rule edits take effect immediately) and syncs store and queue. A boss
// left with no computable spawn is cleared.
func (s *Service) reschedule(ctx context.Context, b *domain.Boss) error {
	ref := s.now()
	if !b.Fixed() && b.LastDeathAt != nil {
		// Daily bosses still count from the recorded death.
		ref = *b.LastDeathAt
	}
	next, err := s.calc.NextSpawn(b, ref)
	if errors.Is(err, respawn.ErrNoComputableSpawn) {
		if err := s.store.SetNextSpawn(ctx, b.ID, nil); err != nil {
			return err
		}
		s.jobs.CancelJobs(ctx, b.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.SetNextSpawn(ctx, b.ID, &next); err != nil {
		return err
	}
	s.logJobs(ctx, b.ID, next)
	return s.jobs.ScheduleJobs(ctx, b.ID, b.Name, next)
}

// logJobs records the scheduled occurrence in the audit log. Audit is
// best-effort and never fails the operation.
func (s *Service) logJobs(ctx context.Context, bossID string, runAt time.Time) {
	for _, kind := range []domain.JobKind{domain.JobAlert, domain.JobSpawn} {
		l := domain.JobLog{
			ID:     uuid.NewString(),
			BossID: bossID,
			Kind:   kind,
			RunAt:  runAt,
			Status: domain.JobLogScheduled,
		}
		if err := s.store.CreateJobLog(ctx, l); err != nil {
			s.log.Warn("job log write failed", logx.String("boss_id", bossID), logx.Err(err))
		}
	}
}

// OverviewRow is one boss in the status overview.
type OverviewRow struct {
	Boss        *domain.Boss
	Fixed       bool
	NextSpawnAt *time.Time
	// Live is meaningful for fixed-time bosses only: whether the boss is
	// expected up right now given its last death and the calendar.
	Live bool
}

// Overview lists the game's bosses with their derived state.
func (s *Service) Overview(ctx context.Context, gameID string) ([]OverviewRow, error) {
	bosses, err := s.store.ListBosses(ctx, gameID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rows := make([]OverviewRow, 0, len(bosses))
	for _, b := range bosses {
		row := OverviewRow{Boss: b, Fixed: b.Fixed(), NextSpawnAt: b.NextSpawnAt}
		if row.Fixed {
			row.Live = s.calc.LiveStatus(b, now) == respawn.StatusLive
		}
		rows = append(rows, row)
	}
	return rows, nil
}
