// Package main provides the cartograph CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/user/cartograph"
	"github.com/user/cartograph/packages/config"
	"github.com/user/cartograph/packages/logging"
	"github.com/user/cartograph/packages/store"
	"github.com/user/cartograph/packages/telemetry"
)

var rootCmd = &cobra.Command{
	Use:           "cartograph",
	Short:         "Map project storage, migration and editing",
	Long:          `cartograph opens map projects written by any known format version, migrates them to the current version, and edits them with undo and redo.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath   string
	logLevel     string
	storageFlag  string
	dsnFlag      string
	pathFlag     string
	printMetrics bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&storageFlag, "storage", "", "Storage driver: memory, dir, sqlite, postgres, badger")
	pf.StringVar(&dsnFlag, "dsn", "", "Database connection string for sqlite and postgres")
	pf.StringVar(&pathFlag, "data", "", "Data directory for the dir and badger drivers")
	pf.BoolVar(&printMetrics, "metrics", false, "Print collected metrics on exit")

	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is what commands that touch the project store need.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if storageFlag != "" {
		cfg.Storage.Driver = storageFlag
	}
	if dsnFlag != "" {
		cfg.Storage.DSN = dsnFlag
	}
	if pathFlag != "" {
		cfg.Storage.Path = pathFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  os.Stderr,
		Service: "cartograph",
	})
}

func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	reg := prometheus.NewRegistry()
	return &env{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: reg,
		metrics:  telemetry.NewMetrics(reg),
	}, nil
}

func (e *env) session(opts ...cartograph.Option) *cartograph.Session {
	base := []cartograph.Option{
		cartograph.WithLogger(e.logger),
		cartograph.WithMetrics(e.metrics),
		cartograph.WithHistoryDepth(e.cfg.History.MaxDepth),
	}
	if e.cfg.Cache.Size > 0 {
		base = append(base, cartograph.WithCache(cartograph.NewSnapshotCache(e.cfg.Cache.Size)))
	}
	return cartograph.NewSession(e.store, nil, append(base, opts...)...)
}

func (e *env) Close() error {
	if printMetrics {
		e.dumpMetrics()
	}
	return e.store.Close()
}

func (e *env) dumpMetrics() {
	families, err := e.registry.Gather()
	if err != nil {
		e.logger.Warn("gather metrics", "error", err)
		return
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%gs", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(os.Stderr, l)
	}
}

// withEnv runs fn with an open environment and closes it afterwards.
func withEnv(fn func(e *env) error) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	err = fn(e)
	if cerr := e.Close(); err == nil {
		err = cerr
	}
	return err
}
