package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nelculobot/internal/app"
	"nelculobot/internal/config"
	"nelculobot/internal/runtime/lifecycle"
)

func main() {
	var cfgPath, envPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json or yaml")
	flag.StringVar(&envPath, "env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := config.LoadDotEnv(envPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(lifecycle.ExitFailure)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	bot, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(lifecycle.ExitFailure)
	}
	if err := bot.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = bot.Stop(context.Background(), lifecycle.StopFatalError)
		os.Exit(lifecycle.ExitFailure)
	}

	var reason lifecycle.StopReason
	select {
	case s := <-sigs:
		reason = lifecycle.StopSIGTERM
		if s == os.Interrupt {
			reason = lifecycle.StopSIGINT
		}
	case <-bot.Done():
		reason = bot.StopReason()
		if err := bot.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	_ = bot.Stop(ctx, reason)
	cancel()
	os.Exit(reason.ExitCode())
}
