// Command trakbridged is the TrakBridge daemon: it loads configuration,
// opens the database, starts the Stream Manager and CoT Service, and serves
// the management HTTP API and Prometheus metrics until SIGINT/SIGTERM
// (spec.md §6 "Process model").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trakbridge/trakbridge/internal/api"
	"github.com/trakbridge/trakbridge/internal/appconfig"
	"github.com/trakbridge/trakbridge/internal/bootstrap"
	"github.com/trakbridge/trakbridge/internal/callsign"
	"github.com/trakbridge/trakbridge/internal/cotservice"
	"github.com/trakbridge/trakbridge/internal/db"
	"github.com/trakbridge/trakbridge/internal/logging"
	"github.com/trakbridge/trakbridge/internal/metrics"
	"github.com/trakbridge/trakbridge/internal/plugin"
	"github.com/trakbridge/trakbridge/internal/plugin/deepstate"
	"github.com/trakbridge/trakbridge/internal/plugin/garmin"
	"github.com/trakbridge/trakbridge/internal/plugin/spot"
	"github.com/trakbridge/trakbridge/internal/plugin/traccar"
	"github.com/trakbridge/trakbridge/internal/streammanager"
	"github.com/trakbridge/trakbridge/internal/streamworker"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:   "trakbridged",
		Short: "TrakBridge GPS/OSINT-to-TAK bridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}
	if err := appconfig.BindFlags(root, v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return root
}

func run(ctx context.Context, v *viper.Viper) error {
	log := logging.New(ctx)

	cfg, err := appconfig.Load(v)
	if err != nil {
		return fmt.Errorf("trakbridged: load config: %w", err)
	}

	lock, err := bootstrap.Acquire(cfg.DataDir, 10*time.Second)
	if err != nil {
		return fmt.Errorf("trakbridged: %w", err)
	}
	defer lock.Release()

	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("trakbridged: open database: %w", err)
	}
	repo := db.New(gdb, nil)

	registry := plugin.NewRegistry(cfg.PluginAllowlist)
	registerBuiltinPlugins(registry)

	metricsReg := metrics.New()

	cotSvc := cotservice.New(cotservice.Options{
		QueueCapacity:    cfg.MaxQueueDepth,
		FreshnessWindow:  cfg.StaleFrameWindow,
		LingerAfterEmpty: 5 * time.Minute,
		Logger:           log,
		Metrics:          metricsReg,
	})

	resolver := callsign.New(repo.LoadCallsignMappings)

	mgr := streammanager.New(streammanager.Options{
		NewWorker: func(id uint64) *streamworker.Worker {
			return streamworker.New(streamworker.Options{
				StreamID:             id,
				Load:                 repo.LoadSnapshot,
				Registry:             registry,
				CotService:           cotSvc,
				Resolver:             resolver,
				Bookkeeper:           repo,
				Logger:               log,
				Metrics:              metricsReg,
				TransformBatchSize:   cfg.TransformBatchSize,
				TransformParallelism: cfg.TransformParallelism,
				TransformEventTimeout: cfg.TransformEventWindow,
				DeviceStateTTL:       cfg.DeviceStateTTL,
			})
		},
		Store:          repo,
		CotService:     cotSvc,
		Logger:         log,
		WorkerGrace:    cfg.WorkerGrace,
		ManagerGrace:   cfg.ManagerGrace,
		HealthInterval: cfg.HealthInterval,
	})

	activeIDs, err := repo.ListActiveStreamIDs(ctx)
	if err != nil {
		return fmt.Errorf("trakbridged: list active streams: %w", err)
	}
	for _, id := range activeIDs {
		if err := mgr.Start(id); err != nil {
			log.Error("failed to start stream", logging.Fields{"stream_id": id, "error": err.Error()})
		}
	}

	go mgr.HealthLoop(func(uint64) time.Duration { return cfg.HealthInterval * 3 })

	apiServer := api.New(mgr, repo, cotSvc, registry, log)
	httpSrv := &http.Server{Addr: cfg.APIListenAddr, Handler: apiServer.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("management api server failed", logging.Fields{"error": err.Error()})
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metricsReg.Gatherer(), promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", logging.Fields{"error": err.Error()})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ManagerGrace)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	mgr.Shutdown()

	return nil
}

func registerBuiltinPlugins(registry *plugin.Registry) {
	_ = registry.RegisterBuiltin(garmin.ID, func() plugin.Plugin { return garmin.New() })
	_ = registry.RegisterBuiltin(spot.ID, func() plugin.Plugin { return spot.New() })
	_ = registry.RegisterBuiltin(traccar.ID, func() plugin.Plugin { return traccar.New() })
	_ = registry.RegisterBuiltin(deepstate.ID, func() plugin.Plugin { return deepstate.New() })
}
