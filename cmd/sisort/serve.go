package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sisort/pkg/logger"
	"sisort/pkg/source"
)

// runServe keeps sorting instances from a source with a stored model and
// exports the workload counters on /metrics until interrupted.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	addr := fs.String("addr", ":2112", "metrics listen address")
	file := fs.String("model", "", "snapshot file (default: model store)")
	name := fs.String("name", "", "latest model with this name")
	family := fs.String("family", "gaussian", "sample source for instances")
	every := fs.Duration("every", 10*time.Millisecond, "delay between instances")
	fs.Parse(args)

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := loadModel(e, *file, "", *name)
	if err != nil {
		return err
	}
	f, err := source.ParseFamily(*family)
	if err != nil {
		return err
	}
	src, err := source.New(f, uint64(time.Now().UnixNano()))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := e.stats.Register(reg); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
			stop()
		}
	}()
	fmt.Printf("Serving metrics on %s/metrics\n", *addr)

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			fmt.Printf("Sorted %d instances, %.1f comparisons each\n", e.stats.SortCount, e.stats.MeanComparisons())
			return srv.Shutdown(shutdownCtx)
		case <-ticker.C:
			if _, _, err := s.SortStats(source.Instance(src, s.Positions())); err != nil {
				logger.Warn("sort failed", zap.Error(err))
			}
		}
	}
}
