// Package config loads the bot configuration from JSON or YAML and can
// watch the file for edits. YAML is coerced to JSON so both formats share
// one strict decoder.
package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Redis     RedisConfig     `json:"redis"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	AdminUserIDs []int64 `json:"admin_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"` // debug|info|warn|error
	Console bool   `json:"console,omitempty"`
	File    string `json:"file,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// SchedulerConfig controls respawn timing behavior.
//
// All durations are Go duration strings. Defaults when omitted:
//   - alert_lead: "10m"
//   - tick_interval: "1m"
//   - tolerance: "30s"
//   - poll_interval: "1s"
//   - messages_per_sec: 20
type SchedulerConfig struct {
	// Timezone renders announcement times; IANA name, default UTC.
	Timezone       string  `json:"timezone,omitempty"`
	AlertLead      string  `json:"alert_lead,omitempty"`
	TickInterval   string  `json:"tick_interval,omitempty"`
	Tolerance      string  `json:"tolerance,omitempty"`
	PollInterval   string  `json:"poll_interval,omitempty"`
	MessagesPerSec float64 `json:"messages_per_sec,omitempty"`
	// DefaultGame is the game code commands operate on when the chat has
	// no explicit binding.
	DefaultGame string `json:"default_game,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
}

// Validate rejects configs the processes cannot start with. Duration
// strings are checked here so a bad edit fails at reload time, not when
// the value is first used.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.alert_lead", c.Scheduler.AlertLead},
		{"scheduler.tick_interval", c.Scheduler.TickInterval},
		{"scheduler.tolerance", c.Scheduler.Tolerance},
		{"scheduler.poll_interval", c.Scheduler.PollInterval},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// Duration accessors with defaults; Validate has already vetted the raw
// strings, so parse errors here fall back silently.

func (c *Config) AlertLead() time.Duration {
	return durationOr(c.Scheduler.AlertLead, 10*time.Minute)
}

func (c *Config) TickInterval() time.Duration {
	return durationOr(c.Scheduler.TickInterval, time.Minute)
}

func (c *Config) Tolerance() time.Duration {
	return durationOr(c.Scheduler.Tolerance, 30*time.Second)
}

func (c *Config) PollInterval() time.Duration {
	return durationOr(c.Scheduler.PollInterval, time.Second)
}

func (c *Config) TelegramPollTimeout() time.Duration {
	return durationOr(c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) StorageBusyTimeout() time.Duration {
	return durationOr(c.Storage.BusyTimeout, 5*time.Second)
}

func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
