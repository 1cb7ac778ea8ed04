package cli

import (
	"fmt"
	"log/slog"

	"imapsession/internal/config"
	"imapsession/internal/smtp"

	"github.com/spf13/cobra"
)

func newSMTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smtp",
		Short: "SMTP connection checks",
	}
	cmd.AddCommand(newSMTPCheckCmd())
	return cmd
}

func newSMTPCheckCmd() *cobra.Command {
	var localName string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Connect to the SMTP server, negotiate TLS and send NOOP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.ValidateSMTP(cfg); err != nil {
				return err
			}
			dbg, err := openDebug(cfg, "SMTP")
			if err != nil {
				return err
			}
			p, err := cfg.Params(config.SMTP, dbg)
			if err != nil {
				_ = dbg.Shutdown()
				return err
			}

			ctx := cmd.Context()
			slog.Debug("connecting", "addr", p.Addr(), "secure", p.Secure.String())
			c, err := smtp.Dial(ctx, p, localName)
			if err != nil {
				_ = dbg.Shutdown()
				return err
			}
			defer c.Close()

			if err := c.Noop(ctx); err != nil {
				return err
			}
			_, size := c.Extension("SIZE")
			auth, mechs := c.Extension("AUTH")
			fmt.Fprintf(cmd.OutOrStdout(), "SMTP %s ok (tls: %t)\n", p.Addr(), c.Secure())
			if size != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "size limit: %s\n", size)
			}
			if auth {
				fmt.Fprintf(cmd.OutOrStdout(), "auth: %s\n", mechs)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&localName, "local-name", "", "Host name sent with EHLO")

	return cmd
}
