package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExpungeCmd() *cobra.Command {
	var mailboxName string

	cmd := &cobra.Command{
		Use:   "expunge",
		Short: "Permanently remove messages flagged \\Deleted",
		Args:  cobra.NoArgs,
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

			sess, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer sess.Close()

			st, _, err := browse(ctx, sess, db, accountOf(cfg), mailboxName, false, false)
			if err != nil {
				return err
			}
			seqs, err := sess.Expunge(ctx)
			if err != nil {
				return err
			}
			if err := saveState(ctx, db, accountOf(cfg), st); err != nil {
				return err
			}

			if len(seqs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to expunge.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Expunged %d messages (responses %v).\n", len(seqs), seqs)
			}
			return sess.Unselect(ctx)
		},
	}

	cmd.Flags().StringVar(&mailboxName, "mailbox", "INBOX", "Mailbox name")

	return cmd
}
