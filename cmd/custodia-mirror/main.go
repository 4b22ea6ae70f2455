package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"custodia/core/events"
	"custodia/observability/logging"
	"custodia/services/mirror"
	"custodia/storage/eventlog"
)

// logSource adapts the persistent event log to the mirror's source interface.
type logSource struct {
	log   *eventlog.Log
	batch int
}

func (s logSource) After(cursor uint64) []events.Record {
	records, err := s.log.After(cursor, s.batch)
	if err != nil {
		return nil
	}
	return records
}

func main() {
	configPath := flag.String("config", "./mirror.yaml", "path to the mirror configuration file")
	eventsPath := flag.String("events", "./custodia-data/events", "path to the node event log")
	flag.Parse()

	if err := run(*configPath, *eventsPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, eventsPath string) error {
	cfg, err := mirror.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup("custodia-mirror", os.Getenv("CUSTODIA_ENV"), logging.Options{})

	log, err := eventlog.Open(eventsPath)
	if err != nil {
		return err
	}
	defer log.Close()

	m, err := mirror.Open(cfg, logSource{log: log, batch: cfg.BatchSize}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mirror running", "driver", cfg.Database.Driver, "events", eventsPath)
	if err := m.Run(ctx, cfg.PollInterval); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
