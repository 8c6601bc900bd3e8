package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devraulu/webscraper/pkg/config"
	"github.com/devraulu/webscraper/pkg/crawler"
	"github.com/devraulu/webscraper/pkg/logger"
	"github.com/devraulu/webscraper/pkg/storage"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawl the configured site once",
		Long: `Run crawls the configured site once and reconciles the dataset.

On the first run (dataset_mode = "create") a dataset is created and the
configuration file is rewritten in update mode so the next run revalidates
the stored pages instead of creating a new dataset.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("couldn't load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger.InitLogger(cfg)

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("couldn't open storage: %w", err)
	}
	defer store.Close()

	c := crawler.New(cfg, store, crawler.WithDatasetCreated(func(d storage.Dataset) error {
		slog.Info("switching config to update mode", slog.String("path", configPath), slog.String("dataset", d.ID))
		return cfg.Save(configPath)
	}))

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	var wg sync.WaitGroup
	var runErr error

	appSignal := make(chan os.Signal, 1)
	signal.Notify(appSignal, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(appSignal)

	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		runErr = c.Run(ctx)
	}()

	select {
	case s := <-appSignal:
		slog.Info("received system signal", slog.String("signal", s.String()))
		stop()
		grace := cfg.GetShutdownGrace()
		select {
		case <-done:
		case <-time.After(grace):
			slog.Error("crawl did not stop within grace period, exiting", slog.Duration("grace", grace))
			os.Exit(1)
		}
	case <-done:
	}

	wg.Wait()
	slog.Info("shutdown complete")
	return runErr
}
