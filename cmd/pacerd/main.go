package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pacer/internal/app"
	"pacer/pkg/systemd"
)

func main() {
	var (
		cfgPath     string
		stopTimeout time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "graceful shutdown budget")
	flag.Parse()
	os.Exit(run(cfgPath, stopTimeout))
}

func run(cfgPath string, stopTimeout time.Duration) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		return 1
	}
	_, _ = systemd.Ready()
	_, _ = systemd.Status("pacing %d queues", len(a.Queues()))

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	_, _ = systemd.Stopping()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	err = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		fmt.Println("fatal:", a.Err())
		return 1
	}
	if err != nil {
		return 1
	}
	return 0
}
