package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var selectMailbox bool

	cmd := &cobra.Command{
		Use:   "status [mailbox]",
		Short: "Show mailbox status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "INBOX"
			if len(args) == 1 {
				name = args[0]
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

			if !selectMailbox {
				st, err := sess.Status(ctx, name)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), st, statusReplyKeys...)
				return nil
			}

			st, err := sess.Select(ctx, name, true)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return sess.Unselect(ctx)
		},
	}

	cmd.Flags().BoolVar(&selectMailbox, "select", false, "Select the mailbox read-only instead of using STATUS")

	return cmd
}
