// corecastd - the per-mountpoint streaming core of an Icecast-style
// broadcast server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/corecast/corecast/internal/auth"
	"github.com/corecast/corecast/internal/config"
	"github.com/corecast/corecast/internal/core"
	"github.com/corecast/corecast/internal/httpd"
	"github.com/corecast/corecast/internal/sourceio"
	"github.com/corecast/corecast/internal/worker"
)

// Version information - injected at build time via ldflags
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file (optional)")
	dataDir := flag.String("data", "", "Data directory for persistent config (default: auto-detect)")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("corecastd %s\n", version)
		fmt.Printf("  Git Commit: %s\n", gitCommit)
		fmt.Printf("  Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	logger := log.New(os.Stdout, "[corecastd] ", log.LstdFlags|log.Lmsgprefix)
	printBanner(logger)
	httpd.Version = version

	var cm *config.ConfigManager
	var err error
	if *configFile != "" {
		logger.Printf("loading configuration from %s", *configFile)
		cm, err = config.NewConfigManagerWithLogger(*configFile, logger)
		if err != nil {
			logger.Fatalf("failed to load configuration: %v", err)
		}
	} else {
		logger.Println("starting in zero-config mode...")
		cm, err = config.NewZeroConfigManager(*dataDir, logger)
		if err != nil {
			logger.Fatalf("failed to initialize configuration: %v", err)
		}
	}

	cfg := cm.GetConfig()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if cm.HasStateOverrides() {
		logger.Println("runtime configuration overrides loaded from state file")
	}

	srv, err := buildServer(cm, logger)
	if err != nil {
		logger.Fatalf("failed to initialize server: %v", err)
	}

	logWriter := srv.GetLogWriter("server")
	if logWriter != nil {
		multiWriter := io.MultiWriter(os.Stdout, logWriter)
		logger.SetOutput(multiWriter)
		logger.Println("log capture enabled for admin panel")
	}

	if err := srv.Start(); err != nil {
		logger.Fatalf("failed to start server: %v", err)
	}

	if cfg.SSL.AutoSSL {
		logger.Printf("corecastd is running with AutoSSL on https://%s", cfg.Server.Hostname)
	} else if cfg.SSL.Enabled {
		logger.Printf("corecastd is running on https://%s:%d", cfg.Server.Hostname, cfg.SSL.Port)
	} else {
		logger.Printf("corecastd is running on http://%s:%d", cfg.Server.ListenAddress, cfg.Server.Port)
	}
	logger.Printf("admin panel: http://%s:%d/admin/config", cfg.Server.ListenAddress, cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-quit

		switch sig {
		case syscall.SIGHUP:
			logger.Println("received SIGHUP, reloading base configuration...")
			if err := cm.ReloadBaseConfig(); err != nil {
				logger.Printf("reload failed: %v", err)
			}

		case syscall.SIGINT, syscall.SIGTERM:
			logger.Printf("received %v, shutting down...", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Stop(ctx); err != nil {
				logger.Printf("error during shutdown: %v", err)
				cancel()
				os.Exit(1)
			}
			cancel()

			logger.Println("corecastd shutdown complete")
			os.Exit(0)
		}
	}
}

// buildServer wires every collaborator the core needs together. Ordering
// is dictated by two constraints: core.MountRegistry needs a *core.Services
// at construction, but core.Services.Balancer needs a *worker.Pool built
// first, and core.Services.MoveListener needs the httpd.ListenerHandler
// that httpd.New builds internally — so the pool is built before Services,
// and httpd.New back-fills MoveListener once its listener handler exists.
func buildServer(cm *config.ConfigManager, logger *log.Logger) (*httpd.Server, error) {
	cfgFunc := cm.GetConfig

	logBuffer := httpd.NewLogBuffer(1000)
	activityBuffer := httpd.NewActivityBuffer(500)

	authn := auth.NewAuthenticator(cfgFunc())
	cm.OnChange(func(newCfg *config.Config) { authn.SetConfig(newCfg) })
	fileServe := httpd.NewFileServe(cfgFunc)

	shuttingDown := func() bool { return false }
	workerCount := runtime.NumCPU()
	if workerCount < 2 {
		workerCount = 2
	}
	throttle := func() core.ThrottleLevel { return core.ThrottleNone }

	pool := worker.NewPool(workerCount, worker.GlobalRunning(func() bool { return !shuttingDown() }), worker.ThrottleFunc(throttle), logger)
	balancer := worker.NewBalancer(pool)

	services := &core.Services{
		Auth:      authn,
		FileServe: fileServe,
		Stats:     logBuffer,
		AccessLog: activityBuffer,
		Balancer:  balancer,
		Logger:    logger,
	}

	lookup := func(mount string) (string, bool) {
		mc := cm.GetMount(mount)
		if mc == nil || mc.FallbackMount == "" {
			return "", false
		}
		return mc.FallbackMount, true
	}

	registry := core.NewMountRegistry(lookup, services)
	global := core.NewGlobalSources(int64(cfgFunc().Server.SourceLimit))
	sourceHandler := sourceio.NewHandler(registry, pool, global, cfgFunc, services, logger)

	srv := httpd.New(cm, registry, global, pool, authn, sourceHandler, services, logBuffer, activityBuffer, logger)
	return srv, nil
}

func printBanner(logger *log.Logger) {
	banner := `
   ██████╗ ██████╗ ██████╗ ███████╗ ██████╗ █████╗ ███████╗████████╗
  ██╔════╝██╔═══██╗██╔══██╗██╔════╝██╔════╝██╔══██╗██╔════╝╚══██╔══╝
  ██║     ██║   ██║██████╔╝█████╗  ██║     ███████║███████╗   ██║
  ██║     ██║   ██║██╔══██╗██╔══╝  ██║     ██╔══██║╚════██║   ██║
  ╚██████╗╚██████╔╝██║  ██║███████╗╚██████╗██║  ██║███████║   ██║
   ╚═════╝ ╚═════╝ ╚═╝  ╚═╝╚══════╝ ╚═════╝╚═╝  ╚═╝╚══════╝   ╚═╝

  Icecast-style streaming core - v%s
  ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`
	fmt.Printf(banner, version)
}

func printUsage() {
	fmt.Printf(`corecastd %s - Icecast-style streaming server core

USAGE:
    corecastd [OPTIONS]

OPTIONS:
    -data <dir>       Data directory for persistent config (default: auto-detect)
    -config <file>    Path to configuration file (optional, legacy mode)
    -version          Show version information
    -help             Show this help message

ZERO-CONFIG MODE (Default):
    corecastd runs without any configuration file. On first start, it will:
    1. Generate secure admin credentials (shown once in console)
    2. Start the admin panel at http://localhost:8000/admin/
    3. All settings are configured via the admin panel's REST API

    Configuration is automatically persisted to the data directory.

LEGACY MODE (with -config):
    Use a VIBE configuration file for settings.

SIGNALS:
    SIGINT, SIGTERM   Graceful shutdown
    SIGHUP            Reload base configuration from disk
`, version)
}
