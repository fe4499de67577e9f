package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/k8ika0s/shop-assistant/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cli.Execute(ctx)
}
