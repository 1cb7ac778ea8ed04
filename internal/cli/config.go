package cli

import (
	"fmt"
	"os"
	"os/exec"

	"imapsession/internal/config"
	"imapsession/internal/secrets"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config management",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigEditCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var showPassword bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			source := cfg.Auth.PasswordSource
			if !showPassword {
				cfg = config.Redact(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))

			if source == "" {
				source = "unset"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# password source: %s\n", source)
			if info, err := secrets.ResolveBackend(); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "# keyring backend: %s (%s)\n", info.Value, info.Source)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPassword, "show-password", false, "Show password in output")

	return cmd
}

func newConfigEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Open config file in $EDITOR",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.EnsureDir(); err != nil {
				return err
			}
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			editor := os.Getenv("EDITOR")
			if editor == "" {
				return fmt.Errorf("EDITOR not set; config file is %s", path)
			}
			editCmd := exec.CommandContext(cmd.Context(), editor, path)
			editCmd.Stdout = os.Stdout
			editCmd.Stderr = os.Stderr
			editCmd.Stdin = os.Stdin
			return editCmd.Run()
		},
	}

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config and state database paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			state, err := cfg.StatePath()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config: %s\nstate: %s\n", path, state)
			if cfg.Debug.Path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "debug: %s\n", cfg.Debug.Path)
			}
			return nil
		},
	}
	return cmd
}
