package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peerwave/peerwave/pkg/config"
	"github.com/peerwave/peerwave/pkg/identity"
	"github.com/peerwave/peerwave/pkg/store"
	badgerstore "github.com/peerwave/peerwave/pkg/store/badger"
	memorystore "github.com/peerwave/peerwave/pkg/store/memory"
)

// openStore selects the persistence backend from the config.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Identity.StorePath == "" {
		return memorystore.NewMemoryStore(), nil
	}
	return badgerstore.NewBadgerStore(cfg.Identity.StorePath)
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show (or create) the node identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath())
		if err != nil {
			return err
		}
		if cfg.Identity.StorePath == "" {
			return fmt.Errorf("identity.store_path is not configured; the identity would not persist")
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := identity.LoadOrCreate(st)
		if err != nil {
			return err
		}
		fmt.Printf("peer id:    %s\n", id.PeerID)
		fmt.Printf("public key: %s\n", hex.EncodeToString(id.KeyPair.Public[:]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
}
