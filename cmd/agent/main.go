package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/agent"
	"github.com/k8ika0s/shop-assistant/internal/logging"
)

func main() {
	cfg, err := agent.FromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := agent.Build(ctx, cfg, log.WithField("agent_id", cfg.AgentID))
	if err != nil {
		log.WithError(err).Fatal("agent setup failed")
	}
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("agent exited")
	}
}
