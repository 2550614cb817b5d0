// Command worker delivers the notifications: it drains the delayed-job
// queue, runs the calendar tick loop and posts announcements to every
// bound chat.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bossbot/internal/announce"
	"bossbot/internal/config"
	"bossbot/internal/metrics"
	"bossbot/internal/queue"
	"bossbot/internal/respawn"
	"bossbot/internal/scheduler"
	"bossbot/internal/store"
	"bossbot/internal/transport/telegram"
	"bossbot/internal/worker"
	"bossbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil && !errors.Is(err, context.Canceled) {
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

	// Send-only adapter; the bot process owns long polling.
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.TelegramPollTimeout(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.Metrics.Enabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = "127.0.0.1:9090"
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", logx.Err(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
		log.Info("metrics exposed", logx.String("addr", addr))
	}

	sched := scheduler.New(q, log.With(logx.String("comp", "scheduler")), cfg.AlertLead())
	calc := respawn.New(log.With(logx.String("comp", "respawn")))
	ann := announce.New(adapter, st, log.With(logx.String("comp", "announce")),
		cfg.Location(), cfg.Scheduler.MessagesPerSec)

	w := worker.New(q, st, calc, sched, ann,
		log.With(logx.String("comp", "worker")), sink, worker.Config{
			PollInterval: cfg.PollInterval(),
			TickInterval: cfg.TickInterval(),
			Tolerance:    cfg.Tolerance(),
		})

	if err := w.Resync(ctx); err != nil {
		log.Warn("boot resync incomplete", logx.Err(err))
	}
	return w.Run(ctx)
}
