package cli

import (
	"fmt"

	"imapsession/internal/uidmap"

	"github.com/spf13/cobra"
)

func newLookupCmd() *cobra.Command {
	var (
		mailboxName string
		byUID       bool
	)

	cmd := &cobra.Command{
		Use:   "lookup <ids>",
		Short: "Translate sequence numbers to UIDs, or UIDs to sequence numbers with --uid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := uidmap.ParseIDSet(args[0])
			if err != nil {
				return fmt.Errorf("invalid id set %q: %w", args[0], err)
			}
			kind := uidmap.BySequence
			if byUID {
				kind = uidmap.ByUID
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

			st, _, err := browse(ctx, sess, db, accountOf(cfg), mailboxName, true, false)
			if err != nil {
				return err
			}
			printPairs(cmd.OutOrStdout(), sortedPairs(st.Map().Lookup(ids, kind)))
			return sess.Unselect(ctx)
		},
	}

	cmd.Flags().StringVar(&mailboxName, "mailbox", "INBOX", "Mailbox name")
	cmd.Flags().BoolVar(&byUID, "uid", false, "Interpret ids as UIDs")

	return cmd
}
