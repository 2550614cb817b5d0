// Command bossbot runs the chat-facing half: it answers commands and
// writes deaths, bosses and rules. The worker process delivers the
// notifications.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bossbot/internal/commands"
	"bossbot/internal/config"
	"bossbot/internal/queue"
	"bossbot/internal/respawn"
	"bossbot/internal/scheduler"
	"bossbot/internal/service"
	"bossbot/internal/store"
	"bossbot/internal/transport"
	"bossbot/internal/transport/telegram"
	"bossbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File != "", Path: cfg.Logging.File},
	})
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.StorageBusyTimeout(),
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	q, err := queue.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	sched := scheduler.New(q, log.With(logx.String("comp", "scheduler")), cfg.AlertLead())
	calc := respawn.New(log.With(logx.String("comp", "respawn")))
	svc := service.New(st, calc, sched, log.With(logx.String("comp", "service")))

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.TelegramPollTimeout(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	handler := commands.New(commands.Deps{
		Service:      svc,
		Store:        st,
		Log:          log.With(logx.String("comp", "commands")),
		Loc:          cfg.Location(),
		DefaultGame:  cfg.Scheduler.DefaultGame,
		AdminUserIDs: cfg.Telegram.AdminUserIDs,
	})

	// Hot-reload applies to log levels only; everything else needs a
	// restart and says so.
	go func() {
		err := mgr.Watch(ctx, func(c *config.Config) {
			logSvc.Apply(logx.Config{
				Level:   c.Logging.Level,
				Console: c.Logging.Console,
				File:    logx.FileConfig{Enabled: c.Logging.File != "", Path: c.Logging.File},
			})
			log.Info("logging config applied; other sections apply on restart")
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	updates := make(chan transport.Update, 256)
	if err := adapter.Start(ctx, updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}
	defer adapter.Stop(context.Background())

	log.Info("bot started", logx.String("config", cfgPath))
	for {
		select {
		case <-ctx.Done():
			log.Info("bot stopping")
			return nil
		case up := <-updates:
			if up.Message == nil {
				continue
			}
			reply := handler.Handle(ctx, *up.Message)
			if reply == "" {
				continue
			}
			to := transport.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
			if _, err := adapter.SendText(ctx, to, reply, nil); err != nil {
				log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			}
		}
	}
}
