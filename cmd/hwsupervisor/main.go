// Package main is the entry point for the hardware supervisor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/2franix/hwsupervisor/internal/actionexec"
	"github.com/2franix/hwsupervisor/internal/buildinfo"
	"github.com/2franix/hwsupervisor/internal/config"
	"github.com/2franix/hwsupervisor/internal/contexthandler"
	"github.com/2franix/hwsupervisor/internal/engine"
	"github.com/2franix/hwsupervisor/internal/eventmgr"
	"github.com/2franix/hwsupervisor/internal/events"
	"github.com/2franix/hwsupervisor/internal/lkdbus"
	"github.com/2franix/hwsupervisor/internal/metrics"
	"github.com/2franix/hwsupervisor/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() == 0 {
		printUsage()
		return
	}

	switch flag.Arg(0) {
	case "serve":
		runServe(logger, *configPath)
	case "validate-config":
		runValidateConfig(logger, *configPath)
	case "version":
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-10s %s\n", k+":", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("hwsupervisor - alarm supervisor for mode-dependent sensor monitoring")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve            Start the supervisor")
	fmt.Println("  validate-config  Load and validate the config file, then exit")
	fmt.Println("  version          Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func loadConfig(logger *slog.Logger, configPath string) *config.Document {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	doc, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	logger.Info("config loaded", "path", cfgPath)
	return doc
}

func runValidateConfig(logger *slog.Logger, configPath string) {
	doc := loadConfig(logger, configPath)
	if _, err := doc.BuildEngineConfig(); err != nil {
		logger.Error("engine config invalid", "error", err)
		os.Exit(1)
	}
	fmt.Println("config OK")
}

func runServe(logger *slog.Logger, configPath string) {
	doc := loadConfig(logger, configPath)

	if doc.LogLevel != "" {
		level, err := config.ParseLogLevel(doc.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("starting hwsupervisor", "version", buildinfo.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := lkdbus.NewMQTTClient(doc.BuildMQTTConfig(), logger)
	if err := bus.Connect(ctx); err != nil {
		logger.Error("failed to connect to bus", "error", err)
		os.Exit(1)
	}
	if err := bus.AwaitConnection(ctx); err != nil {
		logger.Error("bus connection never became ready", "error", err)
		os.Exit(1)
	}

	opBus := events.New()
	registry := contexthandler.NewDefaultRegistry()
	mailer := doc.BuildMailer(bus)
	if mailer == nil {
		logger.Warn("no mail backend configured, send-email actions will fail")
	}

	executor := actionexec.New(bus, mailer, registry, logger)
	mgr := eventmgr.New(executor, opBus, logger)

	engineCfg, err := doc.BuildEngineConfig()
	if err != nil {
		logger.Error("failed to resolve engine config", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(ctx, engineCfg, bus, mgr, logger)
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close(context.Background())
	mgr.SetStatusProvider(eng)

	if err := doc.ApplyBindings(mgr); err != nil {
		logger.Error("failed to apply event bindings", "error", err)
		os.Exit(1)
	}

	go metrics.WatchBus(ctx, opBus)

	var webServer *http.Server
	if doc.Web.Enabled {
		srv := web.NewServer(eng, opBus, logger)
		addr := fmt.Sprintf("%s:%d", doc.Web.Address, doc.Web.Port)
		webServer = &http.Server{Addr: addr, Handler: srv.Handler()}
		go func() {
			logger.Info("dashboard listening", "addr", addr)
			if err := webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
	}

	var metricsServer *http.Server
	if doc.Metrics.Enabled {
		reg := metrics.NewRegistry(eng)
		addr := fmt.Sprintf("%s:%d", doc.Metrics.Address, doc.Metrics.Port)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx := context.Background()
	if webServer != nil {
		_ = webServer.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("hwsupervisor stopped")
}
