package respawn

import (
	"errors"
	"testing"
	"time"

	"bossbot/internal/domain"
	"bossbot/pkg/logx"
)

func bkk(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	return loc
}

func rule(id, expr string) domain.CalendarRule {
	return domain.CalendarRule{ID: id, Expr: expr, TZ: "Asia/Bangkok", Enabled: true}
}

func TestNextSpawnHoursFallback(t *testing.T) {
	t.Parallel()
	loc := bkk(t)
	c := New(logx.Nop())

	death := time.Date(2025, 1, 1, 10, 0, 0, 0, loc)
	b := &domain.Boss{ID: "b1", Name: "Kraken", RespawnHours: 24}

	got, err := c.NextSpawn(b, death)
	if err != nil {
		t.Fatalf("NextSpawn: %v", err)
	}
	want := time.Date(2025, 1, 2, 10, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("NextSpawn = %s, want %s", got, want)
	}
}

func TestNextSpawnEarliestWins(t *testing.T) {
	t.Parallel()
	loc := bkk(t)
	c := New(logx.Nop())

	// Monday 18:00 and Thursday 10:30, death reported Tuesday 08:00:
	// Monday's occurrence already passed, so Thursday wins.
	b := &domain.Boss{
		ID:           "b1",
		Name:         "Valakas",
		RespawnHours: 12, // must be ignored while calendar candidates exist
		Rules: []domain.CalendarRule{
			rule("r1", "0 18 * * 1"),
			rule("r2", "30 10 * * 4"),
		},
	}
	death := time.Date(2025, 9, 2, 8, 0, 0, 0, loc) // Tuesday

	got, err := c.NextSpawn(b, death)
	if err != nil {
		t.Fatalf("NextSpawn: %v", err)
	}
	want := time.Date(2025, 9, 4, 10, 30, 0, 0, loc) // Thursday same week
	if !got.Equal(want) {
		t.Fatalf("NextSpawn = %s, want %s", got, want)
	}
}

func TestNextSpawnSearchesAfterDeathNotNow(t *testing.T) {
	t.Parallel()
	loc := bkk(t)
	c := New(logx.Nop())

	b := &domain.Boss{ID: "b1", Rules: []domain.CalendarRule{rule("r1", "0 18 * * 1")}}

	// A death recorded in the past yields the occurrence after the death,
	// even if it is already in the past relative to wall-clock now.
	death := time.Date(2020, 6, 2, 8, 0, 0, 0, loc) // Tuesday
	got, err := c.NextSpawn(b, death)
	if err != nil {
		t.Fatalf("NextSpawn: %v", err)
	}
	want := time.Date(2020, 6, 8, 18, 0, 0, 0, loc) // the following Monday
	if !got.Equal(want) {
		t.Fatalf("NextSpawn = %s, want %s", got, want)
	}
}

func TestNextSpawnSkipsBadRules(t *testing.T) {
	t.Parallel()
	loc := bkk(t)
	c := New(logx.Nop())

	b := &domain.Boss{
		ID: "b1",
		Rules: []domain.CalendarRule{
			rule("bad", "not a cron"),
			rule("ok", "30 10 * * 4"),
		},
	}
	death := time.Date(2025, 9, 2, 8, 0, 0, 0, loc)
	got, err := c.NextSpawn(b, death)
	if err != nil {
		t.Fatalf("NextSpawn: %v", err)
	}
	want := time.Date(2025, 9, 4, 10, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("NextSpawn = %s, want %s", got, want)
	}
}

func TestNextSpawnIgnoresOccurrenceFreeRule(t *testing.T) {
	t.Parallel()
	loc := bkk(t)
	c := New(logx.Nop())

	// "0 0 31 2 *" parses but never fires. It must not shadow the Thursday
	// rule or push the boss onto the hours fallback.
	b := &domain.Boss{
		ID:           "b1",
		Name:         "Valakas",
		RespawnHours: 24,
		Rules: []domain.CalendarRule{
			rule("never", "0 0 31 2 *"),
			rule("ok", "30 10 * * 4"),
		},
	}
	death := time.Date(2025, 9, 2, 8, 0, 0, 0, loc) // Tuesday

	got, err := c.NextSpawn(b, death)
	if err != nil {
		t.Fatalf("NextSpawn: %v", err)
	}
	want := time.Date(2025, 9, 4, 10, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("NextSpawn = %s, want %s", got, want)
	}
}

func TestNextSpawnAllRulesBadFallsBackToHours(t *testing.T) {
	t.Parallel()
	loc := bkk(t)
	c := New(logx.Nop())

	b := &domain.Boss{
		ID:           "b1",
		RespawnHours: 6,
		Rules:        []domain.CalendarRule{rule("bad", "99 99 * * *")},
	}
	death := time.Date(2025, 1, 1, 10, 0, 0, 0, loc)
	got, err := c.NextSpawn(b, death)
	if err != nil {
		t.Fatalf("NextSpawn: %v", err)
	}
	if want := death.Add(6 * time.Hour); !got.Equal(want) {
		t.Fatalf("NextSpawn = %s, want %s", got, want)
	}
}

func TestNextSpawnNoRulesNoHours(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	b := &domain.Boss{ID: "b1"}
	_, err := c.NextSpawn(b, time.Now())
	if !errors.Is(err, ErrNoComputableSpawn) {
		t.Fatalf("err = %v, want ErrNoComputableSpawn", err)
	}
}

func TestNextSpawnDisabledRulesIgnored(t *testing.T) {
	t.Parallel()
	loc := bkk(t)
	c := New(logx.Nop())

	disabled := rule("r1", "30 10 * * 4")
	disabled.Enabled = false
	b := &domain.Boss{ID: "b1", RespawnHours: 3, Rules: []domain.CalendarRule{disabled}}

	death := time.Date(2025, 1, 1, 10, 0, 0, 0, loc)
	got, err := c.NextSpawn(b, death)
	if err != nil {
		t.Fatalf("NextSpawn: %v", err)
	}
	if want := death.Add(3 * time.Hour); !got.Equal(want) {
		t.Fatalf("NextSpawn = %s, want %s", got, want)
	}
}

func TestLiveStatus(t *testing.T) {
	t.Parallel()
	loc := bkk(t)
	c := New(logx.Nop())

	// Monday 18:00 rule; "now" is Wednesday, so prev = Monday 18:00.
	now := time.Date(2025, 9, 3, 9, 0, 0, 0, loc)
	prevOccurrence := time.Date(2025, 9, 1, 18, 0, 0, 0, loc)

	beforePrev := prevOccurrence.Add(-2 * time.Hour)
	afterPrev := prevOccurrence.Add(2 * time.Hour)

	tests := []struct {
		name  string
		death *time.Time
		want  Status
	}{
		{name: "no death recorded", death: nil, want: StatusLive},
		{name: "death before last occurrence", death: &beforePrev, want: StatusLive},
		{name: "death after last occurrence", death: &afterPrev, want: StatusPending},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := &domain.Boss{
				ID:          "b1",
				LastDeathAt: tt.death,
				Rules:       []domain.CalendarRule{rule("r1", "0 18 * * 1")},
			}
			if got := c.LiveStatus(b, now); got != tt.want {
				t.Fatalf("LiveStatus = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLiveStatusNoUsableRuleIsPending(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	b := &domain.Boss{ID: "b1", Rules: []domain.CalendarRule{rule("bad", "banana")}}
	if got := c.LiveStatus(b, time.Now()); got != StatusPending {
		t.Fatalf("LiveStatus = %v, want StatusPending", got)
	}
}
