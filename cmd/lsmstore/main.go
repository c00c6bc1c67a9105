// Command lsmstore runs the key-value store as an HTTP service, or
// inspects an existing data directory's SSTable layout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guptarohit/asciigraph"
	"github.com/guycipher/lsmstore/internal/config"
	"github.com/guycipher/lsmstore/internal/engine"
	"github.com/guycipher/lsmstore/internal/httpkv"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var directory string
	var port int
	var memtableLimit int
	var blockStride int
	var compactionRatio int
	var bloom, compression, checksum, dropTombstones bool

	root := &cobra.Command{
		Use:   "lsmstore",
		Short: "An embedded log-structured-merge key-value store",
	}
	root.PersistentFlags().StringVar(&directory, "directory", "lsmstore_data", "data directory")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Directory = directory
			cfg.Port = port
			cfg.MemtableLimit = memtableLimit
			cfg.BlockStride = blockStride
			cfg.CompactionTriggerRatio = float64(compactionRatio) / 100
			cfg.BloomFilterEnabled = bloom
			cfg.CompressionEnabled = compression
			cfg.ChecksumEnabled = checksum
			cfg.CompactionDropsTombstones = dropTombstones
			return runServe(cmd.Context(), cfg)
		},
	}
	serve.Flags().IntVar(&port, "port", 8080, "HTTP listen port")
	serve.Flags().IntVar(&memtableLimit, "memtable-limit", 4*1024*1024, "memtable flush threshold in bytes")
	serve.Flags().IntVar(&blockStride, "block-stride", 16, "records per sparse index block")
	serve.Flags().IntVar(&compactionRatio, "compaction-trigger-ratio", 100, "S_newer/S_old threshold as a percent (100 = ratio 1.0)")
	serve.Flags().BoolVar(&bloom, "bloom-filter", true, "enable per-table bloom filters")
	serve.Flags().BoolVar(&compression, "compression", false, "enable per-table value compression")
	serve.Flags().BoolVar(&checksum, "checksum", false, "append and verify per-file checksums")
	serve.Flags().BoolVar(&dropTombstones, "compaction-drops-tombstones", false, "drop tombstones on full compaction")

	var watch bool
	var watchInterval time.Duration
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print the SSTable layout of a data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), directory, watch, watchInterval)
		},
	}
	stats.Flags().BoolVar(&watch, "watch", false, "repeatedly sample and plot SSTable count over time")
	stats.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "sampling interval for --watch")

	root.AddCommand(serve, stats)
	return root
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := cfg.EnsureDirectory(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.Open(ctx, cfg, logger)
	if err != nil {
		return errors.Wrap(err, "open engine")
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Error("engine close failed", "error", err)
		}
	}()

	adapter := httpkv.New(e, logger, e.Metrics().Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: adapter,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runStats(ctx context.Context, directory string, watch bool, interval time.Duration) error {
	if !watch {
		return printStatsOnce(directory)
	}

	var series []float64
	for {
		count, err := sstableCount(directory)
		if err != nil {
			return err
		}
		series = append(series, float64(count))
		fmt.Println(asciigraph.Plot(series, asciigraph.Height(10), asciigraph.Caption("sstable count")))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func printStatsOnce(directory string) error {
	cfg := config.Default()
	cfg.Directory = directory

	e, err := engine.Open(context.Background(), cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		return errors.Wrap(err, "open engine for stats")
	}
	defer func() { _ = e.Close() }()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"table", "bytes"})
	for _, t := range e.Manager().Tables() {
		table.Append([]string{t.Path(), fmt.Sprintf("%d", t.Size())})
	}
	table.Render()
	return nil
}

func sstableCount(directory string) (int, error) {
	cfg := config.Default()
	cfg.Directory = directory

	e, err := engine.Open(context.Background(), cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		return 0, errors.Wrap(err, "open engine for stats")
	}
	defer func() { _ = e.Close() }()
	return len(e.Manager().Tables()), nil
}
