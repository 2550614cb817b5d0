package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bossbot/internal/domain"
)

func setupTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "bossbot_test")
}

func TestEnqueuePopDue(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	target := now.Add(time.Hour)
	j := Job{
		ID:            SpawnJobID("b1"),
		Kind:          domain.JobSpawn,
		BossID:        "b1",
		BossName:      "Kraken",
		TargetSpawnAt: target,
	}
	if err := q.Enqueue(ctx, j, now.Add(50*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Not due yet.
	got, err := q.PopDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("PopDue before fire time returned %d jobs", len(got))
	}

	// Due now.
	got, err = q.PopDue(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("PopDue = %d jobs, want 1", len(got))
	}
	if got[0].ID != j.ID || got[0].BossID != "b1" || got[0].BossName != "Kraken" || got[0].Kind != domain.JobSpawn {
		t.Fatalf("popped job mismatch: %+v", got[0])
	}
	if !got[0].TargetSpawnAt.Equal(target) {
		t.Fatalf("TargetSpawnAt = %s, want %s", got[0].TargetSpawnAt, target)
	}

	// Claimed jobs are gone.
	got, err = q.PopDue(ctx, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("job popped twice: %+v", got)
	}
}

func TestEnqueueSameIDSupersedes(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := Job{ID: AlertJobID("b1"), Kind: domain.JobAlert, BossID: "b1", BossName: "Kraken", TargetSpawnAt: now.Add(time.Hour)}
	second := first
	second.TargetSpawnAt = now.Add(2 * time.Hour)

	if err := q.Enqueue(ctx, first, now.Add(time.Minute)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, second, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.PopDue(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("PopDue = %d jobs, want exactly 1 (stable ID must supersede)", len(got))
	}
	if !got[0].TargetSpawnAt.Equal(second.TargetSpawnAt) {
		t.Fatalf("TargetSpawnAt = %s, want superseding %s", got[0].TargetSpawnAt, second.TargetSpawnAt)
	}
}

func TestCancel(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := Job{ID: SpawnJobID("b1"), Kind: domain.JobSpawn, BossID: "b1", BossName: "Kraken", TargetSpawnAt: now.Add(time.Hour)}
	if err := q.Enqueue(ctx, j, now.Add(time.Minute)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// Cancelling a missing job is fine.
	if err := q.Cancel(ctx, "a:absent"); err != nil {
		t.Fatalf("Cancel(absent): %v", err)
	}

	got, err := q.PopDue(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("cancelled job still popped: %+v", got)
	}
}

func TestReEnqueueAfterClaimKeepsNewPayload(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	old := Job{ID: SpawnJobID("b1"), Kind: domain.JobSpawn, BossID: "b1", BossName: "Kraken", TargetSpawnAt: now}
	if err := q.Enqueue(ctx, old, now.Add(-time.Second)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := q.PopDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(got) != 1 || !got[0].TargetSpawnAt.Equal(old.TargetSpawnAt) {
		t.Fatalf("claimed jobs = %+v, want the old payload", got)
	}

	// A new firing enqueued under the same stable ID right after the claim
	// must survive with its own payload.
	renewed := old
	renewed.TargetSpawnAt = now.Add(2 * time.Hour)
	if err := q.Enqueue(ctx, renewed, now.Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err = q.PopDue(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("PopDue = %d jobs, want 1 (renewed job lost)", len(got))
	}
	if !got[0].TargetSpawnAt.Equal(renewed.TargetSpawnAt) {
		t.Fatalf("TargetSpawnAt = %s, want %s", got[0].TargetSpawnAt, renewed.TargetSpawnAt)
	}
}

func TestPopDueSkipsMemberWithoutPayload(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedis(client, "bossbot_test")

	ctx := context.Background()
	now := time.Now().UTC()

	// A delay-index member whose hash is gone must be swept without error
	// and without blocking the rest of the batch.
	if err := client.ZAdd(ctx, "bossbot_test:due",
		redis.Z{Score: float64(now.UnixMilli()), Member: "s:ghost"}).Err(); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	j := Job{ID: SpawnJobID("b1"), Kind: domain.JobSpawn, BossID: "b1", BossName: "Kraken", TargetSpawnAt: now}
	if err := q.Enqueue(ctx, j, now); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.PopDue(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(got) != 1 || got[0].ID != j.ID {
		t.Fatalf("PopDue = %+v, want only the real job", got)
	}
	if n, err := client.ZCard(ctx, "bossbot_test:due").Result(); err != nil || n != 0 {
		t.Fatalf("delay index not swept: n=%d err=%v", n, err)
	}
}

func TestBackendDownIsUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedis(client, "bossbot_test")
	mr.Close()

	ctx := context.Background()
	j := Job{ID: SpawnJobID("b1"), Kind: domain.JobSpawn, BossID: "b1", TargetSpawnAt: time.Now()}
	if err := q.Enqueue(ctx, j, time.Now()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Enqueue err = %v, want ErrUnavailable", err)
	}
	if _, err := q.PopDue(ctx, time.Now(), 10); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("PopDue err = %v, want ErrUnavailable", err)
	}
}
