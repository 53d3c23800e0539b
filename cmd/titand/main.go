package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/titan-gateway/titan/internal/config"
	"github.com/titan-gateway/titan/internal/connmgr"
	"github.com/titan-gateway/titan/internal/health"
	"github.com/titan-gateway/titan/internal/logger"
	"github.com/titan-gateway/titan/internal/metrics"
	"github.com/titan-gateway/titan/internal/version"
	"github.com/titan-gateway/titan/pkg/container"
	"github.com/titan-gateway/titan/theme"
)

func main() {
	configPath := flag.String("config", "titan.yaml", "path to the gateway configuration file")
	watch := flag.Bool("watch", true, "reload the configuration on file change")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		version.PrintVersionInfo(true, log.New(os.Stdout, "", 0))
		return
	}

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "titand: loading config: %v\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     cfg.Logging.FilePath,
		Theme:      cfg.Logging.Theme,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		FileOutput: cfg.Logging.Output != "" && cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr",
		PrettyLogs: cfg.Logging.Format != "json",
	}
	slogger, cleanup, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "titand: building logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(slogger)
	styled := logger.NewStyledLogger(slogger, theme.GetTheme(logCfg.Theme))

	version.PrintVersionInfo(false, log.New(os.Stdout, "", 0))
	styled.Debug("runtime environment detected", "containerised", container.IsContainerised())

	var sink metrics.Sink = metrics.NoopSink{}
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		promSink := metrics.NewPrometheusSink()
		sink = promSink
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promSink.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				styled.Warn("metrics server stopped", "error", err)
			}
		}()
		styled.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	}

	manager := config.NewManager(slogger)
	manager.SetSink(sink)
	loadErr := manager.Load(*configPath)
	if *watch {
		loadErr = manager.LoadWithWatch(*configPath)
	}
	if loadErr != nil {
		logger.FatalWithLogger(slogger, "initial config load failed", "error", loadErr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	prober := health.NewProber(styled, sink)
	go func() {
		if err := prober.Run(ctx, manager.Get().Upstreams); err != nil {
			styled.Debug("health prober stopped", "error", err)
		}
	}()

	srv := connmgr.NewServer(manager, styled, sink)
	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(addr, cfg.Server)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.FatalWithLogger(slogger, "listener failed", "error", err)
		}
	case <-ctx.Done():
		styled.Info("shutdown signal received")
	}

	srv.Shutdown(cfg.Server.ShutdownTimeout)
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	styled.Info("shutdown complete")
}
