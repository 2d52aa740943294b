package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/cmd"
)

func main() {
	configFile := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Listen for interrupt signals (CTRL/CMD+C, OS instructing the process to stop) to cancel context.
	ctx, cancelFunc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelFunc()

	config, err := cmd.LoadConfig(*configFile)
	if err != nil {
		panic(err)
	}
	if err := cmd.Start(ctx, config); err != nil {
		panic(err)
	}
}
