package cli

import (
	"fmt"

	"imapsession/internal/store"

	"github.com/spf13/cobra"
)

func newMapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map [mailbox]",
		Short: "Show stored UID maps without connecting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			account := accountOf(cfg)
			entries, err := db.List(ctx, account)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			}

			for _, e := range entries {
				if e.Mailbox != args[0] {
					continue
				}
				m, _, err := db.Load(ctx, account, e.Mailbox, e.UIDValidity)
				if err != nil {
					return err
				}
				printPairs(cmd.OutOrStdout(), m.Pairs())
				return nil
			}
			return fmt.Errorf("%s: %w", args[0], store.ErrNotFound)
		},
	}
	return cmd
}
