package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/carelink/appointment-pipeline/internal/api"
	"github.com/carelink/appointment-pipeline/internal/appointment"
	"github.com/carelink/appointment-pipeline/internal/config"
	"github.com/carelink/appointment-pipeline/internal/db"
	"github.com/carelink/appointment-pipeline/internal/event"
	"github.com/carelink/appointment-pipeline/internal/logging"
	redisclient "github.com/carelink/appointment-pipeline/internal/redis"
)

const version = "1.2.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("api-server", "dev")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New("api-server", cfg.Env)
	log.Info().Str("http_port", cfg.HTTPPort).Msg("starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	tracking := appointment.NewRedisTrackingStore(rdb)
	schedules := appointment.NewPgScheduleStore(pgPool)
	countries := appointment.NewPgCountryStore(pgPool, countryTables(cfg))
	created := event.NewStreamPublisher(rdb, cfg.StreamByCountry())

	intake := appointment.NewIntake(tracking, schedules, created, log)
	query := appointment.NewQuery(tracking, countries, log)

	router := api.NewRouter(api.RouterConfig{
		Intake:  intake,
		Query:   query,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  log,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()
	log.Info().Msg("api-server listening")

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}

func countryTables(cfg config.Config) map[appointment.Country]string {
	tables := make(map[appointment.Country]string, len(cfg.Countries))
	for country, res := range cfg.Countries {
		tables[appointment.Country(country)] = res.Table
	}
	return tables
}
