package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/timmy/memeindex/internal/app"
	"github.com/timmy/memeindex/internal/config"
	"github.com/timmy/memeindex/internal/logger"
)

func main() {
	scan := flag.Bool("scan", false, "Scan roots and register new images as pending")
	generate := flag.Bool("generate", false, "Describe and embed one batch of pending images")
	resetProcessing := flag.Bool("reset-processing", false, "Move stranded processing items back to pending")
	resetErrors := flag.Bool("reset-errors", false, "Move errored items back to pending")
	cleanup := flag.Bool("cleanup", false, "Delete items whose file no longer exists")
	roots := flag.String("roots", "", "Comma-separated scan roots (overrides settings and config)")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to config file")
	flag.Parse()

	if !*scan && !*generate && !*resetProcessing && !*resetErrors && !*cleanup {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	appLogger := logger.NewFromEnv(logger.LoadFromEnv().ApplyOverrides(cfg.Log.Level, cfg.Log.Format))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(appLogger.WithContext(context.Background()))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	// Steps run in pipeline order so one invocation can do everything.
	if *resetProcessing {
		n, err := a.Processor.ResetProcessing(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to reset processing items")
		}
		appLogger.WithField(logger.FieldCount, n).Info("Reset processing items")
	}
	if *resetErrors {
		n, err := a.Processor.ResetErrors(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to reset errored items")
		}
		appLogger.WithField(logger.FieldCount, n).Info("Reset errored items")
	}
	if *cleanup {
		result, err := a.Processor.Cleanup(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Cleanup failed")
		}
		appLogger.WithFields(logger.Fields{
			"checked": result.Checked,
			"deleted": result.Deleted,
			"failed":  result.Failed,
		}).Info("Cleanup completed")
	}
	if *scan {
		progress, err := a.Scanner.Scan(ctx, splitRoots(*roots)...)
		if err != nil {
			appLogger.WithError(err).Fatal("Scan failed")
		}
		appLogger.WithFields(logger.Fields{
			"total":   progress.Total,
			"added":   progress.Added,
			"skipped": progress.Skipped,
		}).Info("Scan completed")
	}
	if *generate {
		result, err := a.Processor.GenerateBatch(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Batch generation failed")
		}
		appLogger.WithFields(logger.Fields{
			"total":     result.Total,
			"processed": result.Processed,
			"failed":    result.Failed,
		}).Info("Batch generation completed")
	}
}

func splitRoots(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
