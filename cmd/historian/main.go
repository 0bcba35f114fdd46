package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soltixdb/historian/internal/archive"
	"github.com/soltixdb/historian/internal/config"
	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
	"github.com/soltixdb/historian/internal/records"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

// ingestBatchSize is the number of stdin points handed to WriteData at once
const ingestBatchSize = 500

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Historian starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Fatal("Failed to create directories", "error", err)
	}

	// 3. Open the record stores
	stores, err := openStores(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open record stores", "error", err)
	}
	defer stores.Close()

	seeded, err := records.SeedMetadata(stores.metadata, cfg.Points)
	if err != nil {
		logger.Fatal("Failed to seed point metadata", "error", err)
	}
	logger.Info("Point metadata seeded", "points", seeded)

	// 4. Open the active archive file
	opts, err := archive.OptionsFromConfig(cfg.Archive)
	if err != nil {
		logger.Fatal("Invalid archive configuration", "error", err)
	}

	counter := newEventCounter()
	af, err := archive.New(opts, archive.Dependencies{
		States:   stores.states,
		Metadata: stores.metadata,
		Intercom: stores.intercom,
		Observer: counter,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Failed to create archive", "error", err)
	}
	if err := af.Open(); err != nil {
		logger.Fatal("Failed to open archive", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Ingest points from stdin until EOF or shutdown
	done := make(chan error, 1)
	go func() {
		done <- ingest(ctx, os.Stdin, af, logger)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	waitForShutdown(sigChan, done, cancel, logger)

	// 6. Drain the pipelines and close
	if err := af.Flush(); err != nil {
		logger.Error("Failed to flush archive", "error", err)
	}
	if stats, err := af.Statistics(); err == nil {
		logger.Info("Archive statistics",
			"blocks_used", stats.BlocksUsed,
			"block_count", stats.BlockCount,
			"points_received", stats.PointsReceived,
			"points_archived", stats.PointsArchived,
			"compression_ratio", stats.CompressionRatio,
			"historic_files", stats.HistoricFiles)
	}
	if err := af.Close(); err != nil {
		logger.Error("Failed to close archive", "error", err)
	}
	counter.log(logger)

	logger.Info("Historian stopped")
}

// waitForShutdown blocks until a signal arrives or ingestion ends. After a
// signal, ingestion is cancelled and its last batch written before returning.
func waitForShutdown(sigChan <-chan os.Signal, done <-chan error, cancel context.CancelFunc, logger *logging.Logger) {
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
		if err := <-done; err != nil {
			logger.Error("Ingestion stopped", "error", err)
		}
	case err := <-done:
		if err != nil {
			logger.Error("Ingestion stopped", "error", err)
		} else {
			logger.Info("Input exhausted")
		}
	}
}

// ingest reads CSV points from r and writes them to the archive in batches
func ingest(ctx context.Context, r io.Reader, af *archive.ArchiveFile, logger *logging.Logger) error {
	scanner := bufio.NewScanner(r)
	batch := make([]models.DataPoint, 0, ingestBatchSize)
	line := 0
	rejected := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := af.WriteData(batch...)
		batch = batch[:0]
		return err
	}

	// Partial batches are flushed when input goes quiet
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return flush()
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case text, ok := <-lines:
			if !ok {
				if err := flush(); err != nil {
					return err
				}
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line++
			p, skip, err := parsePointLine(text)
			if err != nil {
				rejected++
				logger.Warn("Rejected input line", "line", line, "error", err)
				continue
			}
			if skip {
				continue
			}
			batch = append(batch, p)
			if len(batch) >= ingestBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}
