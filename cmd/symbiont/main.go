// Package main provides the symbiont CLI entry point.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/verdantlabs/symbiont/pkg/config"
	"github.com/verdantlabs/symbiont/pkg/server"
	"github.com/verdantlabs/symbiont/pkg/symbiont"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "symbiont",
		Short: "Symbiont - ecology-structured retrieval core",
		Long: `Symbiont stores tree-structured dialogue alongside a typed biological
relationship graph and serves hybrid vector-plus-lexical retrieval over both:
paragraph hits seed a graph expansion across symbiotic relationships and
ecosystem memberships, producing deterministic context bundles.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("symbiont v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the symbiont HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to config.yaml (optional)")
	serveCmd.Flags().String("data-dir", "", "Data directory (empty = in-memory)")
	serveCmd.Flags().String("address", "", "Bind address")
	serveCmd.Flags().Int("http-port", 0, "HTTP API port")
	rootCmd.AddCommand(serveCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print entity counts for a data directory",
		RunE:  runStats,
	}
	statsCmd.Flags().String("config", "", "Path to config.yaml (optional)")
	statsCmd.Flags().String("data-dir", "", "Data directory")
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig builds the effective config from file, environment, and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("address"); v != "" {
		cfg.Server.Address = v
	}
	if v, _ := cmd.Flags().GetInt("http-port"); v != 0 {
		cfg.Server.Port = v
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := symbiont.Open(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting", zap.String("config", cfg.String()), zap.String("version", version))
	return server.New(db, cfg.Server, log).ListenAndServe(ctx)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := symbiont.Open(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("nodes:         %d\n", stats.Storage.Nodes)
	fmt.Printf("paragraphs:    %d\n", stats.Storage.Paragraphs)
	fmt.Printf("organisms:     %d\n", stats.Storage.Organisms)
	fmt.Printf("ecosystems:    %d\n", stats.Storage.Ecosystems)
	fmt.Printf("memberships:   %d\n", stats.Storage.Memberships)
	fmt.Printf("relationships: %d\n", stats.Storage.Relationships)
	fmt.Printf("indexed docs:  %d\n", stats.IndexedDocuments)
	return nil
}
