package cli

import (
	"errors"
	"log/slog"
	"os"

	"imapsession/internal/config"
	"imapsession/internal/secrets"
)

// loadConfig reads the config and fills in the password from the keyring
// when neither the environment nor the file provides one.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	if _, ok := os.LookupEnv("IMAPSESSION_AUTH_PASSWORD"); ok {
		cfg.Auth.PasswordSource = "env"
		return cfg, nil
	}

	if cfg.Auth.Password != "" {
		cfg.Auth.PasswordSource = "config"
		return cfg, nil
	}

	if cfg.Auth.Username == "" || cfg.IMAP.Host == "" {
		return cfg, nil
	}

	password, err := secrets.GetPassword(accountOf(cfg))
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			slog.Debug("no password in keyring", "account", accountOf(cfg))
			return cfg, nil
		}
		return cfg, err
	}

	cfg.Auth.Password = password
	cfg.Auth.PasswordSource = "keyring"
	return cfg, nil
}

// accountOf names the account in the keyring and the state database.
func accountOf(cfg config.Config) string {
	return cfg.Auth.Username + "@" + cfg.IMAP.Host
}
