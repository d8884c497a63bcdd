package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/carelink/appointment-pipeline/internal/appointment"
	"github.com/carelink/appointment-pipeline/internal/config"
	"github.com/carelink/appointment-pipeline/internal/db"
	"github.com/carelink/appointment-pipeline/internal/event"
	"github.com/carelink/appointment-pipeline/internal/logging"
	redisclient "github.com/carelink/appointment-pipeline/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("country-worker", "dev")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New("country-worker", cfg.Env)
	log.Info().Msg("starting up")

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

	tables := make(map[appointment.Country]string, len(cfg.Countries))
	for country, res := range cfg.Countries {
		tables[appointment.Country(country)] = res.Table
	}
	countries := appointment.NewPgCountryStore(pgPool, tables)

	bus := event.NewBusPublisher(cfg.KafkaBrokers, cfg.ProcessedTopic)
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error().Err(err).Msg("error closing bus publisher")
		}
	}()

	processor := appointment.NewProcessor(tracking, countries, schedules, appointment.DefaultRules(time.Now), bus, log)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "country-worker"
	}

	// one consumer per country stream; each runs until shutdown
	var wg sync.WaitGroup
	for country, res := range cfg.Countries {
		consumer := event.NewStreamConsumer(rdb, res.Stream, cfg.CountryGroup, hostname+"-"+country, log)

		wg.Add(1)
		go func(country string) {
			defer wg.Done()
			err := consumer.Run(rootCtx, processor.Handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("country", country).Msg("consumer stopped")
				stop() // one dead consumer takes the process down for a clean restart
			}
		}(country)
	}

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping country worker")
	wg.Wait()
}
