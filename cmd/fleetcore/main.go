// Package main is the entry point for the fleetcore sidecar daemon. It
// wires the data-access coordinator and audit ledger together and exposes
// the health, metrics, and stats surface for the fleet operations platform.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harborwatch/fleetcore/internal/audit"
	"github.com/harborwatch/fleetcore/internal/cache"
	"github.com/harborwatch/fleetcore/internal/config"
	"github.com/harborwatch/fleetcore/internal/netmon"
	"github.com/harborwatch/fleetcore/internal/queue"
	"github.com/harborwatch/fleetcore/internal/request"
	"github.com/harborwatch/fleetcore/internal/session"
	"github.com/harborwatch/fleetcore/internal/store"
	"github.com/harborwatch/fleetcore/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Fleetcore Sidecar")
		fmt.Println()
		fmt.Println("Usage: fleetcore [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := session.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	tracer, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "fleetcore",
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporterType,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	// Redis when configured, file-backed otherwise.
	var st store.Store
	var redisStore *store.Redis
	if cfg.RedisAddr != "" {
		redisStore = store.NewRedis(cfg.RedisAddr)
		st = redisStore
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Error("failed to close redis", "error", err)
			}
		}()
		logger.Info("using redis store", "addr", cfg.RedisAddr)
	} else {
		dir := cfg.StateDir
		if dir == "" {
			dir = store.DefaultBaseDir
		}
		fileStore, err := store.NewFile(dir)
		if err != nil {
			logger.Error("failed to open file store", "dir", dir, "error", err)
			os.Exit(1)
		}
		st = fileStore
		logger.Info("using file store", "dir", dir)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	requestMetrics := request.NewMetrics()
	queueMetrics := queue.NewMetrics()
	auditMetrics := audit.NewMetrics()
	for _, reg := range []interface {
		Register(prometheus.Registerer) error
	}{requestMetrics, queueMetrics, auditMetrics} {
		if err := reg.Register(registry); err != nil {
			logger.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
	}

	monitor := netmon.New(logger)
	responseCache := cache.New(st, logger)
	pending := queue.New(st, queueMetrics, logger)

	client := &http.Client{Timeout: cfg.RequestTimeout}
	coordinator := request.New(client, responseCache, pending, monitor, requestMetrics, logger)
	coordinator.SetDefaults(request.Defaults{
		CacheTTL:       cfg.CacheTTL,
		RetryCount:     cfg.RetryCount,
		RetryBaseDelay: cfg.RetryBaseDelay,
		Timeout:        cfg.RequestTimeout,
	})
	pending.SetDispatcher(coordinator)

	ledger, err := audit.New(st, audit.Config{
		RetentionDays: cfg.AuditRetentionDays,
		MaxEntries:    cfg.AuditMaxEntries,
		EncryptionKey: cfg.AuditEncryptionKey,
	}, auditMetrics, logger)
	if err != nil {
		logger.Error("failed to open audit ledger", "error", err)
		os.Exit(1)
	}

	var send audit.SendFunc
	if cfg.AuditSyncURL != "" {
		send = newComplianceSender(client, cfg.AuditSyncURL)
	}
	syncer := audit.NewSyncer(ledger, send, auditMetrics, logger)

	// Reconnecting drains the mutation queue and pushes pending audit
	// entries, one pass per edge.
	monitor.OnOnline(func(ctx context.Context) {
		pending.Replay(ctx)
		if err := syncer.Run(ctx); err != nil {
			logger.Warn("audit sync on reconnect failed", "error", err)
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/connectivity", connectivityHandler(monitor))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if redisStore != nil {
			if err := redisStore.HealthCheck(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				if _, err := fmt.Fprintf(w, `{"status":"degraded","redis":%q}`, err.Error()); err != nil {
					slog.Error("failed to write health response", "error", err)
				}
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := struct {
			Audit           audit.Stats `json:"audit"`
			PendingRequests int         `json:"pending_requests"`
			CachedResponses int         `json:"cached_responses"`
			Online          bool        `json:"online"`
		}{
			Audit:           ledger.Stats(),
			PendingRequests: coordinator.PendingRequestsCount(),
			CachedResponses: responseCache.Len(),
			Online:          monitor.IsOnline(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			slog.Error("failed to write stats response", "error", err)
		}
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting sidecar", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down sidecar...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("sidecar stopped")
}

// connectivityHandler is the ingress for host-reported connectivity
// transitions. The monitor is edge-triggered, so repeated reports of the
// same state are no-ops; an offline-to-online report drains the mutation
// queue and runs the audit sync pass through the registered listeners.
func connectivityHandler(monitor *netmon.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var signal struct {
			Online bool `json:"online"`
		}
		if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
			http.Error(w, "invalid connectivity payload", http.StatusBadRequest)
			return
		}

		if signal.Online {
			monitor.SetOnline(r.Context())
		} else {
			monitor.SetOffline(r.Context())
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]bool{"online": monitor.IsOnline()}); err != nil {
			slog.Error("failed to write connectivity response", "error", err)
		}
	}
}

// newComplianceSender posts serialized audit batches to the remote
// compliance endpoint.
func newComplianceSender(client *http.Client, url string) audit.SendFunc {
	return func(ctx context.Context, payload []byte) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build sync request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach compliance endpoint: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("compliance endpoint returned status %d", resp.StatusCode)
		}
		return nil
	}
}
