package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bossbot/internal/domain"
)

const defaultPrefix = "bossbot"

// popDueScript claims due members from the delay index and reads and
// deletes their payload hashes in the same atomic step. Claim and load must
// not be separable: a re-enqueue of the same stable ID between them would
// hand the worker the new payload for the old firing and then destroy the
// new job's payload. Returns a flat [id, fields, id, fields, ...] reply.
var popDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #due == 0 then
    return {}
end
redis.call('ZREM', KEYS[1], unpack(due))
local out = {}
for _, id in ipairs(due) do
    local key = ARGV[3] .. id
    out[#out+1] = id
    out[#out+1] = redis.call('HGETALL', key)
    redis.call('DEL', key)
end
return out
`)

// RedisQueue stores each job as a hash plus a member in a delay-index
// sorted set scored by the fire time (unix milliseconds).
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. An empty prefix uses "bossbot".
func NewRedis(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisQueue{client: client, prefix: prefix}
}

// Open dials Redis and verifies the connection.
func Open(ctx context.Context, addr, password string, db int, prefix string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, addr, err)
	}
	return NewRedis(client, prefix), nil
}

func (q *RedisQueue) dueKey() string          { return q.prefix + ":due" }
func (q *RedisQueue) jobKey(id string) string { return q.prefix + ":job:" + id }

func (q *RedisQueue) Enqueue(ctx context.Context, j Job, fireAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(j.ID), map[string]any{
		"kind":      string(j.Kind),
		"boss_id":   j.BossID,
		"boss_name": j.BossName,
		"target_ms": j.TargetSpawnAt.UnixMilli(),
	})
	// ZAdd replaces the score for an existing member, so a re-enqueue with
	// the same stable ID supersedes the previous delay.
	pipe.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(fireAt.UnixMilli()), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: enqueue %s: %v", ErrUnavailable, j.ID, err)
	}
	return nil
}

func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.dueKey(), jobID)
	pipe.Del(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: cancel %s: %v", ErrUnavailable, jobID, err)
	}
	return nil
}

func (q *RedisQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := popDueScript.Run(ctx, q.client, []string{q.dueKey()},
		now.UnixMilli(), limit, q.prefix+":job:").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		// The script claims nothing when it fails, so the jobs stay queued.
		return nil, fmt.Errorf("%w: pop due: %v", ErrUnavailable, err)
	}
	flat, _ := res.([]interface{})
	if len(flat) == 0 {
		return nil, nil
	}

	jobs := make([]Job, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		id, _ := flat[i].(string)
		fields := hashReply(flat[i+1])
		if id == "" || len(fields) == 0 {
			// A member without a payload is an already-cancelled leftover.
			continue
		}
		j, err := jobFromHash(id, fields)
		if err != nil {
			// A malformed payload is dropped, not retried.
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// hashReply converts an HGETALL reply embedded in a script result (a flat
// key-value array) into a map.
func hashReply(raw any) map[string]string {
	kv, _ := raw.([]interface{})
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		v, _ := kv[i+1].(string)
		if k != "" {
			m[k] = v
		}
	}
	return m
}

func (q *RedisQueue) Close() error { return q.client.Close() }

func jobFromHash(id string, fields map[string]string) (Job, error) {
	ms, err := strconv.ParseInt(fields["target_ms"], 10, 64)
	if err != nil {
		return Job{}, fmt.Errorf("job %s: bad target_ms %q", id, fields["target_ms"])
	}
	return Job{
		ID:            id,
		Kind:          domain.JobKind(fields["kind"]),
		BossID:        fields["boss_id"],
		BossName:      fields["boss_name"],
		TargetSpawnAt: time.UnixMilli(ms).UTC(),
	}, nil
}
