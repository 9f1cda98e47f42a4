package cli

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ralt/repoindex/internal/config"
	"github.com/ralt/repoindex/internal/metrics"
	"github.com/ralt/repoindex/internal/repository"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/ralt/repoindex/internal/txn"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/repoindex/config.yaml"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "repoindex",
		Short: "Maintain Debian, RPM and NuGet repository indexes",
		Long: `Repoindex hosts package repositories on a storage backend and keeps
their indexes and signed release manifests consistent with the packages
uploaded to and removed from them.

Supported repository types:
  - Debian/APT (.deb packages)
  - Yum/RPM (.rpm packages)
  - NuGet (.nupkg packages)`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging, the config file may refine it later
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the configuration file")

	// Add subcommands
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewUploadCmd())
	rootCmd.AddCommand(NewRemoveCmd())
	rootCmd.AddCommand(NewInspectCmd())

	return rootCmd
}

// app holds what the commands working on configured repositories share
type app struct {
	config      *config.Config
	storage     storage.Storage
	registry    *repository.Registry
	coordinator *txn.Coordinator
	closers     []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// newApp loads the configuration and opens its storage. registerer may be
// nil when no metrics are exported.
func newApp(ctx context.Context, cmd *cobra.Command, registerer prometheus.Registerer) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	a := &app{config: cfg}
	logFile, err := cfg.Log.ConfigureLogging(verbose)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, logFile)
	logrus.WithField("config", path).Debug("Configuration loaded")

	a.registry, err = repository.NewRegistry(cfg.Repositories)
	if err != nil {
		a.Close()
		return nil, err
	}

	st, closeStorage, err := cfg.OpenStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.storage = st
	a.closers = append(a.closers, closerFunc(closeStorage))

	m, err := metrics.New(registerer)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.coordinator = txn.NewCoordinator(st, m)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
