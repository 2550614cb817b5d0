package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bossbot/internal/domain"
	"bossbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the SQLite database at cfg.Path and runs
// the embedded migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertGame(ctx context.Context, g domain.Game) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO games(id, code, name) VALUES(?,?,?)
		 ON CONFLICT(code) DO UPDATE SET name=excluded.name`,
		g.ID, g.Code, g.Name)
	return err
}

func (s *sqliteStore) GetGameByCode(ctx context.Context, code string) (domain.Game, error) {
	var g domain.Game
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, name FROM games WHERE code = ?`, code).
		Scan(&g.ID, &g.Code, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Game{}, fmt.Errorf("game %q: %w", code, ErrNotFound)
	}
	return g, err
}

func (s *sqliteStore) ListGames(ctx context.Context) ([]domain.Game, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name FROM games ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Game
	for rows.Next() {
		var g domain.Game
		if err := rows.Scan(&g.ID, &g.Code, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateBoss(ctx context.Context, b domain.Boss) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bosses(id, game_id, name, respawn_hours, last_death_ms, next_spawn_ms)
		 VALUES(?,?,?,?,?,?)`,
		b.ID, b.GameID, b.Name, b.RespawnHours, msOrNil(b.LastDeathAt), msOrNil(b.NextSpawnAt))
	return err
}

const bossColumns = `id, game_id, name, respawn_hours, last_death_ms, next_spawn_ms`

func (s *sqliteStore) GetBoss(ctx context.Context, id string) (*domain.Boss, error) {
	b, err := s.scanBoss(s.db.QueryRowContext(ctx,
		`SELECT `+bossColumns+` FROM bosses WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadRules(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *sqliteStore) GetBossByName(ctx context.Context, gameID, name string) (*domain.Boss, error) {
	b, err := s.scanBoss(s.db.QueryRowContext(ctx,
		`SELECT `+bossColumns+` FROM bosses WHERE game_id = ? AND name = ? COLLATE NOCASE`,
		gameID, name))
	if err != nil {
		return nil, err
	}
	if err := s.loadRules(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *sqliteStore) ListBosses(ctx context.Context, gameID string) ([]*domain.Boss, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bossColumns+` FROM bosses WHERE game_id = ? ORDER BY name`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := map[string]*domain.Boss{}
	var out []*domain.Boss
	for rows.Next() {
		b, err := s.scanBoss(rows)
		if err != nil {
			return nil, err
		}
		byID[b.ID] = b
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// One rules query for the whole game instead of one per boss.
	rrows, err := s.db.QueryContext(ctx,
		`SELECT id, game_id, boss_id, expr, tz, enabled, next_prepared_ms
		 FROM calendar_rules WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	defer rrows.Close()
	for rrows.Next() {
		r, err := scanRule(rrows)
		if err != nil {
			return nil, err
		}
		if b, ok := byID[r.BossID]; ok {
			b.Rules = append(b.Rules, r)
		}
	}
	return out, rrows.Err()
}

func (s *sqliteStore) DeleteBoss(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bosses WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("boss %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) SetDeath(ctx context.Context, bossID string, deathAt time.Time, next *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bosses SET last_death_ms = ?, next_spawn_ms = ? WHERE id = ?`,
		deathAt.UnixMilli(), msOrNil(next), bossID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("boss %s: %w", bossID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) SetNextSpawn(ctx context.Context, bossID string, next *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bosses SET next_spawn_ms = ? WHERE id = ?`, msOrNil(next), bossID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("boss %s: %w", bossID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) SetSpawnState(ctx context.Context, bossID string, death, next *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bosses SET last_death_ms = ?, next_spawn_ms = ? WHERE id = ?`,
		msOrNil(death), msOrNil(next), bossID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("boss %s: %w", bossID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) AddRule(ctx context.Context, r domain.CalendarRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_rules(id, game_id, boss_id, expr, tz, enabled, next_prepared_ms)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.GameID, r.BossID, r.Expr, r.TZ, r.Enabled, msOrNil(r.NextPreparedAt))
	return err
}

func (s *sqliteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendar_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendar_rules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListEnabledRules(ctx context.Context) ([]domain.CalendarRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, game_id, boss_id, expr, tz, enabled, next_prepared_ms
		 FROM calendar_rules WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CalendarRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetRulePrepared(ctx context.Context, ruleID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendar_rules SET next_prepared_ms = ? WHERE id = ?`,
		at.UnixMilli(), ruleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) UpsertBinding(ctx context.Context, b domain.GuildBinding) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bindings(id, platform, external_id, game_id, chat_id, thread_id)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(platform, external_id) DO UPDATE SET
		   game_id=excluded.game_id, chat_id=excluded.chat_id, thread_id=excluded.thread_id`,
		b.ID, b.Platform, b.ExternalID, b.GameID, b.ChatID, b.ThreadID)
	return err
}

func (s *sqliteStore) ListBindingsByGame(ctx context.Context, gameID string) ([]domain.GuildBinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, external_id, game_id, chat_id, thread_id
		 FROM bindings WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GuildBinding
	for rows.Next() {
		var b domain.GuildBinding
		if err := rows.Scan(&b.ID, &b.Platform, &b.ExternalID, &b.GameID, &b.ChatID, &b.ThreadID); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateJobLog(ctx context.Context, l domain.JobLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_log(id, boss_id, kind, run_at_ms, status) VALUES(?,?,?,?,?)`,
		l.ID, l.BossID, string(l.Kind), l.RunAt.UnixMilli(), l.Status)
	return err
}

func (s *sqliteStore) CompleteJobLogs(ctx context.Context, bossID string, kind domain.JobKind, runAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_log SET status = ?
		 WHERE boss_id = ? AND kind = ? AND run_at_ms = ? AND status = ?`,
		domain.JobLogCompleted, bossID, string(kind), runAt.UnixMilli(), domain.JobLogScheduled)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) ListJobLogs(ctx context.Context, bossID string, limit int) ([]domain.JobLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, boss_id, kind, run_at_ms, status FROM job_log
		 WHERE boss_id = ? ORDER BY run_at_ms DESC LIMIT ?`, bossID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobLog
	for rows.Next() {
		var (
			l    domain.JobLog
			kind string
			ms   int64
		)
		if err := rows.Scan(&l.ID, &l.BossID, &kind, &ms, &l.Status); err != nil {
			return nil, err
		}
		l.Kind = domain.JobKind(kind)
		l.RunAt = time.UnixMilli(ms).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqliteStore) scanBoss(row rowScanner) (*domain.Boss, error) {
	var (
		b          domain.Boss
		death, nxt sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.GameID, &b.Name, &b.RespawnHours, &death, &nxt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.LastDeathAt = timeFromMS(death)
	b.NextSpawnAt = timeFromMS(nxt)
	return &b, nil
}

func (s *sqliteStore) loadRules(ctx context.Context, b *domain.Boss) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, game_id, boss_id, expr, tz, enabled, next_prepared_ms
		 FROM calendar_rules WHERE boss_id = ?`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return err
		}
		b.Rules = append(b.Rules, r)
	}
	return rows.Err()
}

func scanRule(row rowScanner) (domain.CalendarRule, error) {
	var (
		r        domain.CalendarRule
		prepared sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.GameID, &r.BossID, &r.Expr, &r.TZ, &r.Enabled, &prepared); err != nil {
		return domain.CalendarRule{}, err
	}
	r.NextPreparedAt = timeFromMS(prepared)
	return r, nil
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeFromMS(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
