package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"albumbot/internal/album"
	"albumbot/internal/bot"
	"albumbot/internal/config"
	"albumbot/internal/digest"
	"albumbot/internal/history"
	"albumbot/internal/metrics"
	"albumbot/internal/runtime/supervisor"
	"albumbot/internal/transport/telegram"
	logx "albumbot/pkg/logx"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	log := logx.New(logx.Config{
		Level: cfg.Logging.Level,
		File:  logx.FileConfig{Enabled: cfg.Logging.File != "", Path: cfg.Logging.File},
	})
	cfgm := config.NewManager(cfg, log.With(logx.String("comp", "config")))

	adapter, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		log.Error("telegram init failed", logx.Err(err))
		os.Exit(1)
	}

	// History is optional; a broken store degrades to disabled.
	hist, err := history.Open(history.Config{
		Driver: cfg.History.Driver,
		Path:   cfg.History.Path,
	}, log.With(logx.String("comp", "history")))
	if err != nil {
		log.Warn("history store unavailable, continuing without it", logx.Err(err))
		hist = nil
	}

	reg := album.NewRegistry(log.With(logx.String("comp", "registry")))

	var met *metrics.Metrics
	var promReg *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		promReg = prometheus.NewRegistry()
		met = metrics.New(promReg, reg.QueueCount)
	}

	disp := album.NewDispatcher(reg, adapter, cfgm.Delay,
		log.With(logx.String("comp", "dispatcher")),
		album.WithHistory(hist),
		album.WithMetrics(met),
	)
	b := bot.New(adapter, reg, disp, cfgm,
		log.With(logx.String("comp", "bot")),
		bot.WithHistory(hist),
		bot.WithMetrics(met),
	)

	sup := supervisor.New(ctx, supervisor.WithLogger(log), supervisor.WithCancelOnError(true))
	sup.Go("config.watch", cfgm.Watch)
	sup.Go("bot.run", b.Run)
	if promReg != nil {
		sup.Go("metrics.http", metricsServer(cfg.Metrics.Addr, promReg, log))
	}

	dig := digest.New(hist, adapter, cfg.Digest.OwnerChatID, log.With(logx.String("comp", "digest")))
	if err := dig.Start(cfg.Digest.Schedule); err != nil {
		log.Warn("digest not scheduled", logx.Err(err))
	}

	snap := cfgm.Snapshot()
	log.Info("albumbot started",
		logx.Int("threshold", snap.Batching.Threshold),
		logx.Duration("delay", snap.Batching.Delay),
		logx.String("history", cfg.History.Driver))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-sup.Context().Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	dig.Stop()
	sup.Cancel()
	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("shutdown incomplete", logx.Err(err))
	}
	if hist != nil {
		_ = hist.Close()
	}
	log.Info("albumbot stopped")
}

func metricsServer(addr string, reg *prometheus.Registry, log logx.Logger) func(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	return func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("metrics listening", logx.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
