// Package respawn computes authoritative next-spawn instants from a boss's
// rule set and a reference event (death report or "now").
package respawn

import (
	"errors"
	"time"

	"bossbot/internal/cronx"
	"bossbot/internal/domain"
	"bossbot/pkg/logx"
)

// ErrNoComputableSpawn means neither calendar rules nor an hour offset can
// produce a next spawn. Callers leave NextSpawnAt null and schedule nothing.
var ErrNoComputableSpawn = errors.New("no computable next spawn")

// Status is the presentational spawn state of a fixed-time boss.
type Status int

const (
	// StatusPending: the boss is awaiting its next occurrence.
	StatusPending Status = iota
	// StatusLive: the latest occurrence already happened and no death has
	// been reported since, so the boss should be up right now.
	StatusLive
)

// Calculator applies the earliest-wins / hours-fallback policy. Rules that
// fail to parse are skipped and logged, never fatal.
type Calculator struct {
	log logx.Logger
}

func New(log logx.Logger) *Calculator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Calculator{log: log}
}

// NextSpawn computes the boss's next spawn strictly after ref.
//
// Policy order: earliest candidate over all enabled calendar rules; if no
// rule produced a candidate, ref + RespawnHours; otherwise
// ErrNoComputableSpawn.
func (c *Calculator) NextSpawn(b *domain.Boss, ref time.Time) (time.Time, error) {
	var best time.Time
	for _, r := range b.EnabledRules() {
		n, err := cronx.Next(cronx.Rule{Expr: r.Expr, TZ: r.TZ}, ref)
		if err != nil {
			if !errors.Is(err, cronx.ErrNoOccurrence) {
				c.log.Warn("skipping unparsable calendar rule",
					logx.String("rule_id", r.ID),
					logx.String("boss_id", b.ID),
					logx.String("expr", r.Expr),
					logx.Err(err))
			}
			continue
		}
		if best.IsZero() || n.Before(best) {
			best = n
		}
	}
	if !best.IsZero() {
		return best, nil
	}

	if b.RespawnHours > 0 {
		return ref.Add(time.Duration(b.RespawnHours) * time.Hour), nil
	}
	return time.Time{}, ErrNoComputableSpawn
}

// LiveStatus derives whether a fixed-time boss should currently display as
// already spawned. It compares the last recorded death against the latest
// occurrence before now across all rules; a boss whose very first occurrence
// has not happened yet reports pending. Read-only: never touches NextSpawnAt.
func (c *Calculator) LiveStatus(b *domain.Boss, now time.Time) Status {
	var prev time.Time
	for _, r := range b.EnabledRules() {
		p, err := cronx.Prev(cronx.Rule{Expr: r.Expr, TZ: r.TZ}, now)
		if err != nil {
			if !errors.Is(err, cronx.ErrNoOccurrence) {
				c.log.Warn("skipping unparsable calendar rule",
					logx.String("rule_id", r.ID),
					logx.String("boss_id", b.ID),
					logx.Err(err))
			}
			continue
		}
		if p.After(prev) {
			prev = p
		}
	}
	if prev.IsZero() {
		return StatusPending
	}
	if b.LastDeathAt == nil {
		return StatusLive
	}
	if b.LastDeathAt.Before(prev) {
		return StatusLive
	}
	return StatusPending
}
