// Package cli holds the peersync cobra commands.
package cli

import (
	"context"
	"fmt"

	"github.com/rudransh-shrivastava/peer-sync/internal/config"
	"github.com/rudransh-shrivastava/peer-sync/internal/identity"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	nodeName   string
)

var rootCmd = &cobra.Command{
	Use:   `peersync`,
	Short: "keeps a slider value in sync across devices on the LAN",
	Long: `peersync discovers nearby devices, joins them into an encrypted session
and keeps one shared slider value in sync between every member.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "peersync.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&nodeName, "name", "", "device name shown to other peers")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(identityCmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if nodeName != "" {
		cfg.Identity.Name = nodeName
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveIdentity returns the stored identity when identity.store is set and
// a fresh one otherwise.
func resolveIdentity(ctx context.Context, cfg *config.Config) (peer.Info, error) {
	if cfg.Identity.Store == "" {
		return identity.Ephemeral(cfg.Identity.Name), nil
	}

	store, err := identity.Open(cfg.Identity.Store)
	if err != nil {
		return peer.Info{}, err
	}
	defer store.Close()

	return store.GetOrCreate(ctx, cfg.Identity.Name)
}
