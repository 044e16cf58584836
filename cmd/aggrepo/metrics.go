package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	aggprom "github.com/codewandler/aggrepo-go/adapters/prometheus"
	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/core/uow"
	"github.com/codewandler/aggrepo-go/internal/config"
)

type metricsSet struct {
	es       es.ESMetrics
	uow      uow.Metrics
	registry *prometheus.Registry
}

func newMetrics(cfg config.MetricsConfig) metricsSet {
	if !cfg.Enabled {
		return metricsSet{es: es.NopESMetrics(), uow: uow.NopMetrics()}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	all := aggprom.NewAllMetrics(reg)
	return metricsSet{es: all.ES, uow: all.UOW, registry: reg}
}

// serve exposes /metrics until ctx is done. It is a no-op when metrics are
// disabled.
func (m metricsSet) serve(ctx context.Context, addr string, log *slog.Logger) func() {
	if m.registry == nil {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
}
