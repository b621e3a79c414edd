package cli

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-sync/internal/identity"
	"github.com/spf13/cobra"
)

var resetIdentity bool

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "shows the stored device identity",
	Long:  `shows the device identity kept in identity.store, creating it on first use. --reset mints a new id.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Identity.Store == "" {
			return fmt.Errorf("identity.store is not configured; every run uses a fresh identity")
		}

		store, err := identity.Open(cfg.Identity.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		if resetIdentity {
			if err := store.Reset(ctx); err != nil {
				return err
			}
		}

		self, err := store.GetOrCreate(ctx, cfg.Identity.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "id:   %s\nname: %s\n", self.ID, self.Name)
		return nil
	},
}

func init() {
	identityCmd.Flags().BoolVar(&resetIdentity, "reset", false, "forget the stored identity first")
}
