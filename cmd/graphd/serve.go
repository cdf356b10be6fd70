package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultgraph/graphd/internal/server"
)

var serveManifestPath string
var serveKeyspaceFilters []string
var serveForeground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the graphd daemon for the keyspaces named in a manifest",
	Long: `serve loads a keyspace manifest, opens each selected keyspace's storage
backend, and listens on a Unix domain socket for the query-language
protocol. Only one graphd process may hold a manifest's lock file at a
time.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveManifestPath, "manifest", "", "path to the keyspace manifest (defaults to the configured server.manifest_path)")
	serveCmd.Flags().StringSliceVar(&serveKeyspaceFilters, "keyspace", nil, "glob filter(s) over keyspace names; defaults to every keyspace in the manifest")
	serveCmd.Flags().BoolVar(&serveForeground, "foreground", false, "log to stderr instead of the rotating log file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	manifestPath := serveManifestPath
	if manifestPath == "" {
		manifestPath = cfg.ServerManifestPath
	}

	manifest, err := server.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	entries := manifest.Select(serveKeyspaceFilters)
	if len(entries) == 0 {
		return fmt.Errorf("no keyspaces matched filters %v in %s", serveKeyspaceFilters, manifestPath)
	}

	lock, err := server.AcquireLock(cfg.ServerLockPath, manifestPath)
	if err != nil {
		return fmt.Errorf("acquire server lock: %w", err)
	}
	defer lock.Release()

	var logger *slog.Logger
	if serveForeground {
		logger = server.NewStderrLogger(slog.LevelInfo)
	} else {
		var lj interface{ Close() error }
		lj, logger = server.NewLogger(cfg.LogPath, cfg.LogMaxSizeMB, slog.LevelInfo)
		defer lj.Close()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	srv, err := server.New(ctx, cfg, entries, logger)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	stop := make(chan struct{})
	if err := server.WatchManifest(manifestPath, logger, stop); err != nil {
		logger.Warn("manifest watch disabled", "error", err)
	}
	defer close(stop)

	logger.Info("graphd starting", "socket", cfg.ServerSocketPath, "keyspaces", len(entries))
	if err := srv.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "graphd: accept loop exited:", err)
		return err
	}
	return nil
}
