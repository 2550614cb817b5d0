// Package domain holds the entities shared by the store, the respawn
// calculator and the job pipeline.
package domain

import "time"

// Game groups bosses under a short code ("L9").
type Game struct {
	ID   string
	Code string
	Name string
}

// CalendarRule is one recurring spawn slot for a fixed-time boss.
type CalendarRule struct {
	ID     string
	GameID string
	BossID string

	// Expr is a 5-field cron expression (minute hour dom month dow).
	Expr string
	// TZ is an IANA timezone name the expression is evaluated in.
	TZ      string
	Enabled bool

	// NextPreparedAt caches the occurrence the tick loop last scheduled for,
	// used to detect drift without re-queueing every pass.
	NextPreparedAt *time.Time
}

// Boss is a tracked respawn target.
//
// A boss with at least one enabled calendar rule is "fixed-time"; otherwise
// it is "daily" and respawns RespawnHours after its last recorded death.
// RespawnHours == 0 means the boss has no hour offset at all.
type Boss struct {
	ID     string
	GameID string
	Name   string

	RespawnHours int
	LastDeathAt  *time.Time

	// NextSpawnAt is the authoritative cached next-spawn instant. Queued jobs
	// carry a copy and are discarded at execution time when they disagree.
	NextSpawnAt *time.Time

	// Rules are the boss's calendar rules, loaded alongside the boss.
	Rules []CalendarRule
}

// EnabledRules returns the boss's enabled calendar rules.
func (b *Boss) EnabledRules() []CalendarRule {
	var out []CalendarRule
	for _, r := range b.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// Fixed reports whether the boss spawns on calendar rules rather than an
// hour offset. The classification is derived once per loaded boss.
func (b *Boss) Fixed() bool { return len(b.EnabledRules()) > 0 }

// GuildBinding maps a chat community to a game and a destination channel.
// It is consumed as a lookup by the notification boundary only.
type GuildBinding struct {
	ID         string
	Platform   string
	ExternalID string
	GameID     string
	ChatID     int64
	ThreadID   int
}

// JobKind distinguishes the two notifications per occurrence.
type JobKind string

const (
	JobAlert JobKind = "alert"
	JobSpawn JobKind = "spawn"
)

// Job log statuses.
const (
	JobLogScheduled = "scheduled"
	JobLogCompleted = "completed"
)

// JobLog records one scheduled spawn occurrence for audit. The worker marks
// the matching record completed when the spawn notification fires.
type JobLog struct {
	ID     string
	BossID string
	Kind   JobKind
	RunAt  time.Time
	Status string
}
