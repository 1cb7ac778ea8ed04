package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sync [mailbox...]",
		Short: "Fetch the UID map of mailboxes and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"INBOX"}
			}

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

			sess, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer sess.Close()

			for _, name := range args {
				st, source, err := browse(ctx, sess, db, accountOf(cfg), name, true, force)
				if err != nil {
					return fmt.Errorf("sync %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages mapped (%s)\n", name, st.Map().Len(), source)
				if err := sess.Unselect(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Ignore the stored map and fetch every UID")

	return cmd
}
