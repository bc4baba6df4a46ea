// Command labctl administers a labcontrol database: it creates the
// database, applies schema patches and reports the patch level.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"labcontrol/internal/config"
	appctx "labcontrol/internal/core/context"
	"labcontrol/internal/core/tx"
	"labcontrol/internal/infrastructure/storage"
	"labcontrol/internal/patch"
	"labcontrol/internal/schema"
	"labcontrol/pkg/logger"
)

var version = "dev"

// CLI flags
var (
	configPath string
	patchesDir string
	verbose    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "labctl",
		Short:         "labctl - labcontrol database administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if verbose {
				level = "debug"
			}
			log, err := logger.New(logger.Config{Level: level, Development: true})
			if err != nil {
				return err
			}
			logger.SetDefault(log)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("LABCONTROL_CONFIG"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&patchesDir, "patches", "", "directory of patch files (default: embedded patches)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every transaction step")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create the database and apply every patch",
			Args:  cobra.NoArgs,
			RunE:  runInit,
		},
		&cobra.Command{
			Use:   "patch",
			Short: "Apply pending patches",
			Args:  cobra.NoArgs,
			RunE:  runPatch,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current and pending patches",
			Args:  cobra.NoArgs,
			RunE:  runStatus,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "labctl %s\n", version)
			},
		},
	)

	return rootCmd
}

// session is one CLI invocation: config, open store, one Transaction.
type session struct {
	cfg    *config.Config
	store  *storage.Store
	tx     *tx.Transaction
	runner *patch.Runner
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if patchesDir != "" {
		cfg.Patches.Dir = patchesDir
	}

	store, err := storage.Open(ctx, cfg.Database, cfg.Transaction)
	if err != nil {
		return nil, err
	}

	var source fs.FS
	if cfg.Patches.Dir != "" {
		source = os.DirFS(cfg.Patches.Dir)
	}
	runner, err := schema.NewRunner(source, store.Dialect)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &session{cfg: cfg, store: store, tx: store.NewTransaction(), runner: runner}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.tx.Close(ctx); err != nil {
		logger.Warn(ctx, "close transaction", "error", err)
	}
	s.store.Close()
}

func commandContext(cmd *cobra.Command) context.Context {
	return appctx.WithTrace(cmd.Context(), appctx.NewTraceContext("", ""))
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	created, err := storage.Init(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "created database %s\n", cfg.Database.Name)
	}

	return runPatch(cmd, args)
}

func runPatch(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	applied, err := s.runner.Apply(ctx, s.tx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	current, err := s.runner.Current(ctx, s.tx)
	if err != nil {
		return err
	}
	pending, err := s.runner.Pending(ctx, s.tx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "driver:  %s\n", s.store.Dialect.Name)
	fmt.Fprintf(out, "current: %s\n", current)
	fmt.Fprintf(out, "pending: %d\n", len(pending))
	for _, name := range pending {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return nil
}
