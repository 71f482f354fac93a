// Package main runs offline cart storage maintenance.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	entrypoint "github.com/louisbranch/shopping-cart/internal/platform/cmd"
	"github.com/louisbranch/shopping-cart/internal/platform/config"
	"github.com/louisbranch/shopping-cart/internal/platform/log"
	"github.com/louisbranch/shopping-cart/internal/tools/maintenance"
)

func main() {
	cfg, err := maintenance.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}
	// Projection replay logs go to stderr so reports on stdout stay parseable.
	log.Configure(log.Config{Level: "warn", Output: os.Stderr, Service: entrypoint.ServiceMaintenance})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := maintenance.Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		config.Exitf("Error: %s: %v", cfg.Command, err)
	}
}
