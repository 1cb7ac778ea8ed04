package cli

import (
	"fmt"

	"imapsession/internal/config"
	"imapsession/internal/secrets"

	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication and config setup",
	}
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	return cmd
}

type serverFlags struct {
	host       string
	port       int
	secure     string
	insecure   bool
	disableTLS bool
	timeout    string
}

func (f *serverFlags) register(cmd *cobra.Command, prefix, label string) {
	cmd.Flags().StringVar(&f.host, prefix+"-host", "", label+" host")
	cmd.Flags().IntVar(&f.port, prefix+"-port", 0, label+" port")
	cmd.Flags().StringVar(&f.secure, prefix+"-secure", "", label+" secure mode: none, opportunistic, tls, ssl or true")
	cmd.Flags().BoolVar(&f.insecure, prefix+"-insecure", false, "Skip "+label+" TLS verification")
	cmd.Flags().BoolVar(&f.disableTLS, prefix+"-disable-tls", false, "Never use TLS with "+label)
	cmd.Flags().StringVar(&f.timeout, prefix+"-timeout", "", label+" I/O timeout")
}

func (f *serverFlags) apply(cmd *cobra.Command, prefix string, srv *config.ServerConfig) {
	if cmd.Flags().Changed(prefix + "-host") {
		srv.Host = f.host
	}
	if cmd.Flags().Changed(prefix + "-port") {
		srv.Port = f.port
	}
	if cmd.Flags().Changed(prefix + "-secure") {
		srv.Secure = f.secure
	}
	if cmd.Flags().Changed(prefix + "-insecure") {
		srv.InsecureSkipVerify = f.insecure
	}
	if cmd.Flags().Changed(prefix + "-disable-tls") {
		srv.DisableTLS = f.disableTLS
	}
	if cmd.Flags().Changed(prefix + "-timeout") {
		srv.Timeout = f.timeout
	}
}

func newAuthLoginCmd() *cobra.Command {
	var (
		imapFlags serverFlags
		smtpFlags serverFlags

		username       string
		password       string
		storeInKeyring bool
		debugPath      string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store IMAP/SMTP credentials and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			imapFlags.apply(cmd, "imap", &cfg.IMAP)
			smtpFlags.apply(cmd, "smtp", &cfg.SMTP)

			if cmd.Flags().Changed("username") {
				cfg.Auth.Username = username
			}
			if cmd.Flags().Changed("password") {
				cfg.Auth.Password = password
			}
			if cmd.Flags().Changed("debug-path") {
				cfg.Debug.Path = debugPath
			}

			if err := config.ValidateIMAP(cfg); err != nil {
				return err
			}
			if cfg.SMTP.Host != "" {
				if err := config.ValidateSMTP(cfg); err != nil {
					return err
				}
			}

			switch {
			case storeInKeyring && cmd.Flags().Changed("password"):
				if err := secrets.SetPassword(accountOf(cfg), cfg.Auth.Password); err != nil {
					return err
				}
				cfg.Auth.Password = ""
				fmt.Fprintf(cmd.OutOrStdout(), "Password stored in keyring for %s\n", accountOf(cfg))
			case cmd.Flags().Changed("password"):
			case cfg.Auth.PasswordSource != "config":
				// Keep keyring and environment passwords out of the file.
				cfg.Auth.Password = ""
			}

			path, err := config.Save(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			return nil
		},
	}

	imapFlags.register(cmd, "imap", "IMAP")
	smtpFlags.register(cmd, "smtp", "SMTP")

	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&password, "password", "", "Password or app password")
	cmd.Flags().BoolVar(&storeInKeyring, "keyring", true, "Keep the password in the system keyring instead of the config file")
	cmd.Flags().StringVar(&debugPath, "debug-path", "", "Append protocol traces to this file")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored password from the keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.Username == "" {
				return fmt.Errorf("auth.username is not set")
			}
			if err := secrets.DeletePassword(accountOf(cfg)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password removed for %s\n", accountOf(cfg))
			return nil
		},
	}
	return cmd
}
