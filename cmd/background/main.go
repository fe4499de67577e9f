package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/api"
	"github.com/k8ika0s/shop-assistant/internal/config"
	"github.com/k8ika0s/shop-assistant/internal/events"
	"github.com/k8ika0s/shop-assistant/internal/logging"
	"github.com/k8ika0s/shop-assistant/internal/queue"
	"github.com/k8ika0s/shop-assistant/internal/server"
	"github.com/k8ika0s/shop-assistant/internal/store"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := queue.New(queue.Options{Store: queueStore(cfg, log), Logger: log.WithField("component", "queue")})
	if err := q.Restore(ctx); err != nil {
		log.WithError(err).Warn("queue restore failed, starting empty")
	}

	var history store.Store = store.NewMemory(cfg.HistorySize)
	if cfg.PostgresDSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.PostgresDSN, cfg.SkipMigrate)
		if err != nil {
			log.WithError(err).Fatal("postgres unavailable")
		}
		history = pg
	}
	defer history.Close()

	var pub events.Publisher = events.NullPublisher{}
	if cfg.KafkaBrokers != "" {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		pub = kp
	}

	h := &api.Handler{
		Queue:        q,
		Store:        history,
		Publisher:    pub,
		SettingsPath: cfg.SettingsPath,
		Log:          log.WithField("component", "api"),
	}
	if err := server.New(cfg, h, log).Start(ctx); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func queueStore(cfg config.Config, log logrus.FieldLogger) queue.Store {
	switch cfg.QueueStore {
	case "redis":
		if cfg.RedisURL == "" {
			log.Warn("QUEUE_STORE=redis without REDIS_URL, queue will not persist")
			return queue.NullStore{}
		}
		return queue.NewRedisStore(cfg.RedisURL, cfg.RedisKey)
	case "none", "memory":
		return queue.NullStore{}
	default:
		return queue.NewFileStore(cfg.QueueFile)
	}
}
