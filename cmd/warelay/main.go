// Command warelay runs the session bridge daemon: a WebDriver-backed
// service that links messaging accounts by walking a headless browser
// through the web client's QR login flow.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/castellanosj/warelay/pkg/api"
	"github.com/castellanosj/warelay/pkg/bridge"
	"github.com/castellanosj/warelay/pkg/browser"
	"github.com/castellanosj/warelay/pkg/browser/webdriver"
	"github.com/castellanosj/warelay/pkg/config"
	"github.com/castellanosj/warelay/pkg/logging"
	"github.com/castellanosj/warelay/pkg/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "warelay: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("warelay", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	bind := fs.String("bind", "", "address to bind the HTTP server (overrides config)")
	driverPath := fs.String("driver", "", "path to the WebDriver binary (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*bind) != "" {
		cfg.Server.BindAddress = *bind
	}
	if strings.TrimSpace(*driverPath) != "" {
		cfg.Driver.Path = *driverPath
	}

	log, err := logging.NewLogger(cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()
	log.SetMinLevel(logging.Level(strings.ToLower(cfg.Logging.Level)))

	store, err := storage.NewSQLite(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	runtime, err := webdriver.NewRuntime(webdriver.Config{
		DriverPath:       cfg.Driver.Path,
		BrowserPath:      cfg.Driver.BrowserPath,
		ConnectTimeout:   cfg.Driver.ConnectTimeout,
		OperationTimeout: cfg.Driver.OperationTimeout,
	})
	if err != nil {
		return fmt.Errorf("init browser runtime: %w", err)
	}

	registry := browser.NewRegistry(runtime, cfg.Bridge.MaxBrowsers)

	b := bridge.New(bridge.Config{
		EntryURL:        cfg.Bridge.EntryURL,
		OpenTimeout:     cfg.Bridge.OpenTimeout,
		PollTimeout:     cfg.Bridge.PollTimeout,
		PollInterval:    cfg.Bridge.PollInterval,
		RetryBudget:     cfg.Bridge.RetryBudget,
		ArtifactRefresh: cfg.Bridge.ArtifactRefresh,
		ProfileRoot:     cfg.Bridge.ProfileRoot,
		Headless:        !cfg.Bridge.Headful,
	}, registry, store, log)

	server := api.NewServer(api.Config{
		BindAddress:    cfg.Server.BindAddress,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, b, store, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info(logging.CategorySession, "daemon_started", "listening on "+cfg.Server.BindAddress, map[string]any{
		"entry_url":    cfg.Bridge.EntryURL,
		"max_browsers": cfg.Bridge.MaxBrowsers,
	})

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(logging.CategorySession, "daemon_stopping", "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(logging.CategorySession, "shutdown_error", err.Error(), nil)
	}
	if err := b.Shutdown(); err != nil {
		log.Error(logging.CategorySession, "shutdown_error", err.Error(), nil)
	}
	return nil
}
