// The stockleague server: participants register a stock pick and a weekly
// leaderboard ranks them by percentage price change.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stockleague/internal/config"
	"stockleague/internal/fetcher"
	"stockleague/internal/httpx"
	"stockleague/internal/league"
	"stockleague/internal/roster"
	"stockleague/internal/scheduler"
	"stockleague/internal/server"
	"stockleague/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("load configuration")
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	store, err := roster.OpenSQLite(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("open roster store")
	}
	defer store.Close()

	routes := []fetcher.Route{fetcher.Direct()}
	for _, prefix := range cfg.Provider.Proxies {
		routes = append(routes, fetcher.ProxyFromPrefix(prefix))
	}
	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	quotes := fetcher.New(fetcher.Config{
		BaseURL:        cfg.Provider.BaseURL,
		Routes:         routes,
		AttemptTimeout: time.Duration(cfg.Provider.AttemptTimeoutSec) * time.Second,
		CacheTTL:       time.Duration(cfg.Provider.CacheTTLSec) * time.Second,
		BatchWorkers:   cfg.Provider.BatchWorkers,
	}, httpClient, log)

	svc := league.New(store, quotes, log)

	sched := scheduler.New(log)
	if cfg.Refresh.Enabled {
		if err := sched.AddJob(cfg.Refresh.Schedule, refreshJob{svc: svc}); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Refresh.Schedule).Msg("register refresh job")
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:    log,
		League: svc,
		Source: quotes,
		Store:  store,
		Port:   cfg.Server.Port,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}

type refreshJob struct {
	svc *league.Service
}

func (j refreshJob) Name() string { return "refresh-leaderboard" }

func (j refreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	_, err := j.svc.RefreshAll(ctx)
	return err
}
