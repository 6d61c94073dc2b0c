package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/vortexdock/pkg/certs"
	"github.com/cuemby/vortexdock/pkg/config"
	"github.com/cuemby/vortexdock/pkg/dispatch"
	"github.com/cuemby/vortexdock/pkg/fileserver"
	"github.com/cuemby/vortexdock/pkg/health"
	"github.com/cuemby/vortexdock/pkg/log"
	"github.com/cuemby/vortexdock/pkg/metrics"
	"github.com/cuemby/vortexdock/pkg/reclaim"
	"github.com/cuemby/vortexdock/pkg/store"
)

const (
	readTimeout         = 5 * time.Second
	writeTimeout        = 10 * time.Second
	idleTimeout         = 60 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vortexdockd",
	Short: "VortexDock dispatch server",
	Long: `vortexdockd is the dispatch server for VortexDock, a distributed
molecular docking job system. It leases docking work items to compute
nodes over a password-authenticated TLS channel, serves receptor/ligand/
result files over a plain HTTP channel, and reclaims work abandoned by
compute nodes that vanish mid-lease.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vortexdockd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "vortexdock.yaml", "Path to the YAML config file")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.WithComponent("vortexdockd")
	metrics.SetVersion(Version)

	s, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()
	if err := s.Init(); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	metrics.RegisterComponent("store", true, "ready")
	logger.Info().Str("backend", cfg.Database.Backend).Msg("store ready")

	if backendMonitor := startBackendMonitor(cfg, logger); backendMonitor != nil {
		backendMonitor.Start()
		defer backendMonitor.Stop()
	}

	bundle, err := certs.EnsureServerCert(cfg.Server.CertDir, []string{cfg.Server.Host, "localhost"})
	if err != nil {
		return fmt.Errorf("ensure server cert: %w", err)
	}

	reclaimer := reclaim.New(s, reclaim.Config{
		Interval:     cfg.Task.SweepEvery.Duration(),
		LeaseTimeout: cfg.Task.LeaseTimeout.Duration(),
		MaxRetries:   cfg.Task.MaxRetries,
	})
	reclaimer.Start()
	defer reclaimer.Stop()
	metrics.RegisterComponent("reclaim", true, "ready")
	logger.Info().Dur("interval", cfg.Task.SweepEvery.Duration()).Msg("reclaimer started")

	dispatchErrCh := make(chan error, 1)
	dispatchListener, err := startDispatchListener(cfg, bundle, s, logger, dispatchErrCh)
	if err != nil {
		return fmt.Errorf("start dispatch listener: %w", err)
	}
	defer dispatchListener.Close()
	metrics.RegisterComponent("dispatch", true, "ready")

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.FilePort)
	httpServer := newHTTPServer(httpAddr, cfg.Server.DataDir)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
	}()
	logger.Info().Str("addr", httpAddr).Msg("file/metrics listener started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-dispatchErrCh:
		logger.Error().Err(err).Msg("dispatch listener error")
	case err := <-httpErrCh:
		logger.Error().Err(err).Msg("http listener error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(ctx)

	return nil
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.Database.Backend {
	case "mysql":
		return store.NewMySQL(cfg.Database.DSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return store.NewSQLite(filepath.Join(cfg.Server.DataDir, "vortexdock.db"))
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

// mysqlDSNAddr extracts the "host:port" segment out of a go-sql-driver
// DSN of the form "user:pass@tcp(host:port)/dbname".
var mysqlDSNAddr = regexp.MustCompile(`tcp\(([^)]+)\)`)

// startBackendMonitor runs a background TCP reachability check against
// the MySQL backend, independent of the store's own query path, so a
// database outage shows up on /health before the next lease attempt
// fails. Returns nil for the sqlite backend, which has no network
// dependency to watch.
func startBackendMonitor(cfg config.Config, logger zerolog.Logger) *health.Monitor {
	if cfg.Database.Backend != "mysql" {
		return nil
	}
	m := mysqlDSNAddr.FindStringSubmatch(cfg.Database.DSN)
	if m == nil {
		logger.Warn().Msg("could not parse mysql DSN address, skipping backend monitor")
		return nil
	}
	addr := m[1]

	checker := health.NewTCPChecker(addr).WithTimeout(2 * time.Second)
	monitor := health.NewMonitor(checker, health.Config{
		Interval: 15 * time.Second,
		Timeout:  2 * time.Second,
		Retries:  3,
	}, func(status health.Status) {
		metrics.UpdateComponent("store-backend", status.Healthy, status.LastResult.Message)
		if !status.Healthy {
			logger.Warn().Str("addr", addr).Int("failures", status.ConsecutiveFailures).
				Msg("mysql backend unreachable")
		} else {
			logger.Info().Str("addr", addr).Msg("mysql backend reachable again")
		}
	})
	metrics.RegisterComponent("store-backend", true, "ready")
	logger.Info().Str("addr", addr).Msg("mysql backend monitor started")
	return monitor
}

func startDispatchListener(cfg config.Config, bundle *certs.Bundle, s store.Store, logger zerolog.Logger, errCh chan<- error) (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.CommandPort)
	ln, err := tls.Listen("tcp", addr, certs.ServerTLSConfig(bundle))
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", addr).Msg("dispatch listener started")

	handler := dispatch.New(s, cfg.Server.IdleTimeout.Duration())
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				errCh <- err
				return
			}
			go func() {
				if err := handler.Serve(conn); err != nil {
					logger.Debug().Err(err).Msg("dispatch connection ended")
				}
			}()
		}
	}()
	return ln, nil
}

func newHTTPServer(addr, dataDir string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/", fileserver.New(dataDir))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}
