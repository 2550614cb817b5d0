// Package announce fans notification text out to every chat bound to a
// game. Delivery is best-effort per binding: one broken chat never blocks
// the rest.
package announce

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"bossbot/internal/domain"
	"bossbot/internal/transport"
	"bossbot/pkg/logx"
)

// Sender is the outbound half of a transport adapter.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// BindingSource lists the chats bound to a game.
type BindingSource interface {
	ListBindingsByGame(ctx context.Context, gameID string) ([]domain.GuildBinding, error)
}

type Announcer struct {
	sender   Sender
	bindings BindingSource
	log      logx.Logger
	loc      *time.Location

	// limiter paces outbound sends under the platform's flood limits.
	limiter *rate.Limiter
}

// New builds an announcer. Times in messages are rendered in loc; a nil
// loc renders UTC. messagesPerSecond <= 0 uses a conservative default.
func New(sender Sender, bindings BindingSource, log logx.Logger, loc *time.Location, messagesPerSecond float64) *Announcer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	if messagesPerSecond <= 0 {
		messagesPerSecond = 20
	}
	return &Announcer{
		sender:   sender,
		bindings: bindings,
		log:      log,
		loc:      loc,
		limiter:  rate.NewLimiter(rate.Limit(messagesPerSecond), 1),
	}
}

// Alert announces an upcoming spawn.
func (a *Announcer) Alert(ctx context.Context, gameID, bossName string, spawnAt time.Time) error {
	text := fmt.Sprintf("⏳ %s spawns at %s", bossName, a.clock(spawnAt))
	return a.broadcast(ctx, gameID, text)
}

// Spawn announces that the spawn window is open.
func (a *Announcer) Spawn(ctx context.Context, gameID, bossName string, spawnAt time.Time) error {
	text := fmt.Sprintf("⚔️ %s is up! (%s)", bossName, a.clock(spawnAt))
	return a.broadcast(ctx, gameID, text)
}

func (a *Announcer) clock(t time.Time) string {
	return t.In(a.loc).Format("15:04")
}

// broadcast sends text to every binding of the game. The binding lookup
// failing is an error; an individual send failing is logged and skipped.
func (a *Announcer) broadcast(ctx context.Context, gameID, text string) error {
	binds, err := a.bindings.ListBindingsByGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("list bindings for game %s: %w", gameID, err)
	}
	if len(binds) == 0 {
		a.log.Debug("no chats bound, announcement dropped", logx.String("game_id", gameID))
		return nil
	}

	for _, b := range binds {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		to := transport.ChatTarget{ChatID: b.ChatID, ThreadID: b.ThreadID}
		if _, err := a.sender.SendText(ctx, to, text, nil); err != nil {
			a.log.Warn("announcement send failed",
				logx.String("game_id", gameID),
				logx.Int64("chat_id", b.ChatID),
				logx.Err(err))
			continue
		}
	}
	return nil
}
