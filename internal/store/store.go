// Package store persists games, bosses, calendar rules, chat bindings and
// the job audit log. SQLite is the only backend; callers hold a Store and
// never see database/sql.
package store

import (
	"context"
	"errors"
	"time"

	"bossbot/internal/domain"
)

// ErrNotFound is returned by single-entity lookups with no match.
var ErrNotFound = errors.New("store: not found")

// Config configures the SQLite backend.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type Store interface {
	// Games.
	UpsertGame(ctx context.Context, g domain.Game) error
	GetGameByCode(ctx context.Context, code string) (domain.Game, error)
	ListGames(ctx context.Context) ([]domain.Game, error)

	// Bosses. Loaded bosses always carry their calendar rules.
	CreateBoss(ctx context.Context, b domain.Boss) error
	GetBoss(ctx context.Context, id string) (*domain.Boss, error)
	GetBossByName(ctx context.Context, gameID, name string) (*domain.Boss, error)
	ListBosses(ctx context.Context, gameID string) ([]*domain.Boss, error)
	DeleteBoss(ctx context.Context, id string) error

	// SetDeath records a death and the next-spawn instant computed from it
	// in one write. A nil next clears the cached spawn.
	SetDeath(ctx context.Context, bossID string, deathAt time.Time, next *time.Time) error

	// SetNextSpawn updates only the cached next-spawn instant. A nil next
	// clears it.
	SetNextSpawn(ctx context.Context, bossID string, next *time.Time) error

	// SetSpawnState overwrites both timer fields at once; nil clears.
	// Resets go through here.
	SetSpawnState(ctx context.Context, bossID string, death, next *time.Time) error

	// Calendar rules.
	AddRule(ctx context.Context, r domain.CalendarRule) error
	DeleteRule(ctx context.Context, id string) error
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
	ListEnabledRules(ctx context.Context) ([]domain.CalendarRule, error)
	SetRulePrepared(ctx context.Context, ruleID string, at time.Time) error

	// Chat bindings.
	UpsertBinding(ctx context.Context, b domain.GuildBinding) error
	ListBindingsByGame(ctx context.Context, gameID string) ([]domain.GuildBinding, error)

	// Job audit log.
	CreateJobLog(ctx context.Context, l domain.JobLog) error
	// CompleteJobLogs marks scheduled records for the boss/kind at runAt as
	// completed and returns how many rows changed.
	CompleteJobLogs(ctx context.Context, bossID string, kind domain.JobKind, runAt time.Time) (int64, error)
	ListJobLogs(ctx context.Context, bossID string, limit int) ([]domain.JobLog, error)

	Close() error
}
