package main

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragcore/internal/server"
	"ragcore/internal/system"
	"ragcore/internal/watcher"
)

var (
	serveAddr     string
	serveWatchDir string
	serveNoModel  bool

	watchScan bool
)

// serveCmd exposes the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Boots the core and serves the JSON API, including the /api/events stream of
thinking steps and chat tokens. With a watch directory configured, files
dropped there are ingested automatically.`,
	RunE: runServe,
}

// watchCmd ingests a directory as it changes
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and keep the knowledge base in sync with it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	events := server.NewBroadcaster(0)
	sys, err := bootSystem(ctx, system.BootOptions{
		WithoutGeneration: serveNoModel,
		Notifier:          events,
	})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := server.New(server.Options{
		Addr:           addr,
		MaxConnections: cfg.Server.MaxConnections,
		ReadTimeout:    cfg.GetServerReadTimeout(),
		WriteTimeout:   cfg.GetServerWriteTimeout(),
	}, sys.Orchestrator, sys.Retrieval, sys.Sessions, events)

	dir := cfg.Watcher.Dir
	if serveWatchDir != "" {
		dir = serveWatchDir
	}

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		logger.Info("Serving HTTP API", zap.String("addr", addr))
		return srv.Serve(ctx)
	})
	if dir != "" {
		p.Go(func(ctx context.Context) error {
			return watchDir(ctx, sys, dir, false)
		})
	}
	return p.Wait()
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	dir := cfg.Watcher.Dir
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		return fmt.Errorf("no directory to watch: pass one or set watcher.dir")
	}

	sys, err := bootSystem(ctx, system.BootOptions{WithoutGeneration: true})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	return watchDir(ctx, sys, dir, watchScan)
}

// watchDir runs a watcher until ctx is cancelled.
func watchDir(ctx context.Context, sys *system.System, dir string, scan bool) error {
	w, err := watcher.New(dir, cfg.Watcher.Extensions, cfg.GetWatchDebounce(), sys.Retrieval)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	if scan {
		if err := w.Scan(ctx); err != nil {
			return err
		}
	}
	logger.Info("Watching directory", zap.String("dir", dir))

	<-ctx.Done()
	stats := w.GetStats()
	logger.Info("Watcher stopped",
		zap.Int("ingested", stats.FilesIngested),
		zap.Int("removed", stats.FilesRemoved),
		zap.Int("errors", stats.Errors))
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch", "", "Directory to auto-ingest (overrides watcher.dir)")
	serveCmd.Flags().BoolVar(&serveNoModel, "no-generation", false, "Serve without starting the generation actor")

	watchCmd.Flags().BoolVar(&watchScan, "scan", true, "Ingest existing files before watching")
}
