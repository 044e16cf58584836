// Command aggrepo runs a bank-account workload against a configured backend.
//
// Every command runs in its own unit of work; commands on one account are
// serialized. At the end the sum of all balances is checked.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/core/perkey"
	"github.com/codewandler/aggrepo-go/core/uow"
	"github.com/codewandler/aggrepo-go/internal/config"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (default: "+config.DefaultConfigFile+" if present)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var loadOpts []config.Option
	if *configFile != "" {
		loadOpts = append(loadOpts, config.WithFile(*configFile))
	}
	cfg, err := config.Load(loadOpts...)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	log := newLogger(cfg.Log)
	if err := run(ctx, cfg, log); err != nil {
		log.Error("failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Workload.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Workload.Timeout)
		defer cancel()
	}

	m := newMetrics(cfg.Metrics)
	stopMetrics := m.serve(ctx, cfg.Metrics.Addr, log)
	defer stopMetrics()

	be, err := openBackend(ctx, cfg, log, m.es)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			log.Warn("close backend", slog.Any("error", err))
		}
	}()

	sched := perkey.New[string]()
	defer sched.Close()

	b := &bank{
		driver: be.driver,
		sched:  sched,
		repoOpts: []es.RepositoryOption{
			es.WithLog(log),
			es.WithMetrics(m.es),
			es.WithFlushConcurrency(cfg.Repo.FlushConcurrency),
		},
		uowOpts: []uow.Option{uow.WithLog(log), uow.WithMetrics(m.uow)},
		log:     log,
	}

	_, err = runWorkload(ctx, b, cfg.Workload, log)
	return err
}
