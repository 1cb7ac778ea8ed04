package cli

import (
	"fmt"
	"text/tabwriter"

	"imapsession/internal/mailbox"

	"github.com/spf13/cobra"
)

func newMailboxesCmd() *cobra.Command {
	var withStatus bool

	cmd := &cobra.Command{
		Use:   "mailboxes [pattern]",
		Short: "List mailboxes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sess, err := openSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer sess.Close()

			names, err := sess.List(ctx, pattern)
			if err != nil {
				return err
			}

			if !withStatus {
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "MAILBOX\tMESSAGES\tUNSEEN")
			for _, name := range names {
				st, err := sess.Status(ctx, name)
				if err != nil {
					fmt.Fprintf(tw, "%s\t-\t-\n", name)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, st.Status(mailbox.Messages), st.Status(mailbox.Unseen))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&withStatus, "status", false, "Show message counts")

	return cmd
}
