package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/carelink/appointment-pipeline/internal/appointment"
	"github.com/carelink/appointment-pipeline/internal/config"
	"github.com/carelink/appointment-pipeline/internal/event"
	"github.com/carelink/appointment-pipeline/internal/logging"
	redisclient "github.com/carelink/appointment-pipeline/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("completion-worker", "dev")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New("completion-worker", cfg.Env)
	log.Info().Str("topic", cfg.ProcessedTopic).Msg("starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	bus := event.NewBusPublisher(cfg.KafkaBrokers, cfg.CompletedTopic)
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error().Err(err).Msg("error closing bus publisher")
		}
	}()

	completion := appointment.NewCompletion(tracking, bus, log)

	consumer := event.NewBusConsumer(cfg.KafkaBrokers, cfg.ProcessedTopic, cfg.CompletionGroup, log)
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Error().Err(err).Msg("error closing bus consumer")
		}
	}()

	err = consumer.Run(rootCtx, completion.HandleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("consumer stopped")
	}

	log.Info().Msg("shutdown signal received, stopping completion worker")
}
