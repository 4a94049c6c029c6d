package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

)

// serveOptions mirrors cmd/dex/serve.go's serveOptions shape, narrowed to
// the flags this process's fixed service set actually needs.
type serveOptions struct {
	telemetryAddr string
}

func commandServe() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the health/metrics endpoint and the tombstone GC loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.telemetryAddr, "telemetry-addr", ":8081", "Address to serve /healthz and /metrics on")
	return cmd
}

// runServe wires and supervises this process's fixed top-level services
// with oklog/run.Group, grounded on cmd/dex/serve.go's gr.Add/gr.Run use:
// a telemetry HTTP server (health + prometheus) plus the tombstone GC
// loop, both shut down on SIGINT/SIGTERM.
func runServe(opts serveOptions) error {
	cfg, err := readConfigFile(configPath)
	if err != nil {
		return err
	}
	dep := newDeployment(cfg)
	defer dep.close()

	registry := prometheus.NewRegistry()
	if err := registry.Register(prometheus.NewGoCollector()); err != nil {
		return fmt.Errorf("register go collector: %w", err)
	}
	if err := registry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("register process collector: %w", err)
	}

	healthChecker := gosundheit.New()
	healthChecker.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "redis",
			CheckFunc: func(ctx context.Context) (interface{}, error) {
				return nil, dep.client.Ping(ctx).Err()
			},
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", gosundheithttp.HandleHealthJSON(healthChecker))
	mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: opts.telemetryAddr, Handler: mux}

	var gr run.Group
	gr.Add(func() error {
		dep.logger.Info("listening", "component", "telemetry", "addr", opts.telemetryAddr)
		return srv.ListenAndServe()
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	gcCtx, gcCancel := context.WithCancel(context.Background())
	if interval := gcInterval(cfg); interval > 0 {
		tombstones := dep.tombstones()
		gr.Add(func() error {
			dep.logger.Info("starting tombstone GC loop", "interval", interval)
			tombstones.RunLoop(gcCtx, interval, func(err error) {
				dep.logger.Error("tombstone cleanup failed", "err", err)
			})
			return nil
		}, func(error) {
			gcCancel()
		})
	} else {
		gcCancel()
	}

	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))
	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); ok {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func gcInterval(cfg Config) time.Duration {
	if cfg.Tombstone.Interval == "" {
		return 0
	}
	d, err := time.ParseDuration(cfg.Tombstone.Interval)
	if err != nil {
		return 0
	}
	return d
}
