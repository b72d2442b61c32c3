package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/hnpwa-feed/api"
	"github.com/brettboylen/hnpwa-feed/db"
	"github.com/brettboylen/hnpwa-feed/feed"
	"github.com/brettboylen/hnpwa-feed/models"
	"github.com/brettboylen/hnpwa-feed/publish"
	"github.com/brettboylen/hnpwa-feed/server"
	"github.com/brettboylen/hnpwa-feed/tools"
	"github.com/brettboylen/hnpwa-feed/utils"
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	mode := flag.String("mode", "serve", "Run mode (serve, publish, once, mcp)")
	flag.Parse()

	log := setupLogger(*logLevel)
	log.WithField("mode", *mode).Info("Starting HNPWA feed")

	config, err := utils.LoadConfig(*envPath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"hn_base_url":  config.HN.BaseURL,
		"server_port":  config.Server.Port,
		"router_path":  config.Server.RouterPath,
		"publish":      config.Publish.Enabled,
		"publish_dest": config.Publish.Dest,
	}).Info("Configuration loaded")

	hnAPI := api.NewHackerNewsAPI(
		config.HN.BaseURL,
		config.HN.RequestTimeout,
		config.HN.MaxRequestsPerSecond,
		log,
	)

	engine := feed.NewEngine(hnAPI, log, feed.Options{
		Sanitize: config.Content.Sanitize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch *mode {
	case "once":
		database := openLedger(config.Publish.DatabasePath, log)
		publisher := newPublisher(engine, database, config, log)
		_, err := publisher.RunOnce(ctx)
		closeLedger(database, log)
		if err != nil {
			log.WithError(err).Fatal("Snapshot failed")
		}
		return

	case "mcp":
		// stdout carries the protocol; logs stay on stderr
		mcpCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s := tools.New(engine, config.App.Name, config.App.Version, log)
		if err := tools.ServeStdio(mcpCtx, s, log); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Fatal("Tool server failed")
		}
		return

	case "publish":
		database := openLedger(config.Publish.DatabasePath, log)
		defer closeLedger(database, log)

		go runPublisher(ctx, newPublisher(engine, database, config, log), log)

	case "serve":
		var database *db.Database
		var runs server.RunLister
		if config.Publish.Enabled {
			database = openLedger(config.Publish.DatabasePath, log)
			defer closeLedger(database, log)
			if database != nil {
				runs = database
			}
			go runPublisher(ctx, newPublisher(engine, database, config, log), log)
		}

		e := server.New(engine, runs, server.Options{
			Name:                 config.App.Name,
			Version:              config.App.Version,
			RouterPath:           config.Server.RouterPath,
			UseCors:              config.Server.UseCors,
			MaxRequestsPerMinute: config.Server.MaxRequestsPerMinute,
			BrowserExpiry:        config.Cache.BrowserExpiry,
			CDNExpiry:            config.Cache.CDNExpiry,
			StaleWhileRevalidate: config.Cache.StaleWhileRevalidate,
		}, log)
		go startEchoServer(ctx, e, config.Server.Port, log)

	default:
		log.WithField("mode", *mode).Fatal("Unknown mode")
	}

	waitForShutdown(cancel, log)
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// openLedger opens the publish ledger. An empty path or a failure disables it.
func openLedger(path string, log *logrus.Logger) *db.Database {
	if path == "" {
		return nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.WithError(err).Warn("Failed to create ledger directory, publishing without a ledger")
			return nil
		}
	}

	database, err := db.NewDatabase(path, log)
	if err != nil {
		log.WithError(err).Warn("Failed to open ledger, publishing without a ledger")
		return nil
	}
	return database
}

func closeLedger(database *db.Database, log *logrus.Logger) {
	if database == nil {
		return
	}
	if err := database.Close(); err != nil {
		log.WithError(err).Error("Failed to close ledger")
	}
}

func newPublisher(engine *feed.Engine, database *db.Database, config *utils.Config, log *logrus.Logger) *publish.Publisher {
	// a nil *db.Database must not become a non-nil interface
	var ledger publish.Ledger
	if database != nil {
		ledger = database
	}
	publisher := publish.NewPublisher(engine, ledger, config.Publish.Dest, config.Publish.Interval, log)
	publisher.OnAfterWrite(func(run models.PublishRun) {
		if run.Error == "" {
			return
		}
		log.WithFields(logrus.Fields{
			"run_id":        run.ID,
			"files_written": run.FilesWritten,
			"dest":          run.Dest,
		}).Warn("Snapshot published with missing files")
	})
	return publisher
}

func runPublisher(ctx context.Context, publisher *publish.Publisher, log *logrus.Logger) {
	if err := publisher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Publisher stopped unexpectedly")
	}
}

// startEchoServer starts the HTTP server and shuts it down when ctx is done
func startEchoServer(ctx context.Context, e *echo.Echo, port int, log *logrus.Logger) {
	go func() {
		serverAddr := fmt.Sprintf(":%d", port)
		log.WithField("port", port).Info("Starting API server")
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}
}

// waitForShutdown waits for a shutdown signal
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()

	time.Sleep(1 * time.Second)
	log.Info("HNPWA feed stopped")
}
