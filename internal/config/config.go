package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imapsession/internal/conn"
	"imapsession/internal/debug"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	IMAP           ServerConfig `mapstructure:"imap" yaml:"imap"`
	SMTP           ServerConfig `mapstructure:"smtp" yaml:"smtp"`
	Auth           AuthConfig   `mapstructure:"auth" yaml:"auth"`
	Debug          DebugConfig  `mapstructure:"debug" yaml:"debug"`
	State          StateConfig  `mapstructure:"state" yaml:"state"`
	KeyringBackend string       `mapstructure:"keyring_backend" yaml:"keyring_backend,omitempty"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// Secure is one of none, opportunistic, tls (STARTTLS), ssl (implicit
	// TLS) or true (STARTTLS, refusing plain text).
	Secure             string `mapstructure:"secure" yaml:"secure"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	// DisableTLS turns off TLS support altogether.
	DisableTLS bool   `mapstructure:"disable_tls" yaml:"disable_tls"`
	Timeout    string `mapstructure:"timeout" yaml:"timeout"`
}

type AuthConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// PasswordSource records where Password came from. It is never saved.
	PasswordSource string `mapstructure:"-" yaml:"-"`
}

type DebugConfig struct {
	// Path of the protocol trace. Empty disables tracing.
	Path        string `mapstructure:"path" yaml:"path"`
	SlowCommand string `mapstructure:"slow_command" yaml:"slow_command"`
}

type StateConfig struct {
	// Path of the browse state database. Empty uses the config directory.
	Path string `mapstructure:"path" yaml:"path"`
}

// Server selects the IMAP or SMTP section.
type Server string

const (
	IMAP Server = "imap"
	SMTP Server = "smtp"
)

func DefaultConfig() Config {
	return Config{
		IMAP: ServerConfig{
			Port:    993,
			Secure:  "ssl",
			Timeout: "30s",
		},
		SMTP: ServerConfig{
			Port:    587,
			Secure:  "tls",
			Timeout: "30s",
		},
		Debug: DebugConfig{
			SlowCommand: debug.SlowCommand.String(),
		},
	}
}

func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("IMAPSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func Save(cfg Config) (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if _, err := EnsureDir(); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Auth.Password != "" {
		masked.Auth.Password = "****"
	}
	return masked
}

// setDefaults registers every key so AutomaticEnv can override keys that are
// absent from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	for name, srv := range map[string]ServerConfig{"imap": cfg.IMAP, "smtp": cfg.SMTP} {
		v.SetDefault(name+".host", srv.Host)
		v.SetDefault(name+".port", srv.Port)
		v.SetDefault(name+".secure", srv.Secure)
		v.SetDefault(name+".insecure_skip_verify", srv.InsecureSkipVerify)
		v.SetDefault(name+".disable_tls", srv.DisableTLS)
		v.SetDefault(name+".timeout", srv.Timeout)
	}

	v.SetDefault("auth.username", cfg.Auth.Username)
	v.SetDefault("auth.password", cfg.Auth.Password)
	v.SetDefault("debug.path", cfg.Debug.Path)
	v.SetDefault("debug.slow_command", cfg.Debug.SlowCommand)
	v.SetDefault("state.path", cfg.State.Path)
	v.SetDefault("keyring_backend", cfg.KeyringBackend)
}

func (cfg Config) server(which Server) (ServerConfig, error) {
	switch which {
	case IMAP:
		return cfg.IMAP, nil
	case SMTP:
		return cfg.SMTP, nil
	default:
		return ServerConfig{}, fmt.Errorf("unknown server %q", which)
	}
}

// Params builds connection parameters for one server. A server with
// disable_tls gets no TLS configuration, so any secure mode other than none
// or opportunistic is rejected when the connection is initialized.
func (cfg Config) Params(which Server, dbg *debug.Stream) (conn.Params, error) {
	srv, err := cfg.server(which)
	if err != nil {
		return conn.Params{}, err
	}
	mode, err := conn.ParseSecure(srv.Secure)
	if err != nil {
		return conn.Params{}, fmt.Errorf("%s.secure: %w", which, err)
	}
	timeout, err := parseDuration(srv.Timeout)
	if err != nil {
		return conn.Params{}, fmt.Errorf("%s.timeout: %w", which, err)
	}

	p := conn.Params{
		Host:    srv.Host,
		Port:    srv.Port,
		Secure:  mode,
		Timeout: timeout,
		Debug:   dbg,
	}
	if !srv.DisableTLS {
		p.TLS = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: srv.InsecureSkipVerify, //nolint:gosec // opt-in via config
		}
	}
	return p, nil
}

// SlowCommand returns the debug slow-command threshold.
func (cfg Config) SlowCommand() (time.Duration, error) {
	d, err := parseDuration(cfg.Debug.SlowCommand)
	if err != nil {
		return 0, fmt.Errorf("debug.slow_command: %w", err)
	}
	if d == 0 {
		d = debug.SlowCommand
	}
	return d, nil
}

// StatePath returns the browse state database path.
func (cfg Config) StatePath() (string, error) {
	if cfg.State.Path != "" {
		return cfg.State.Path, nil
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", v)
	}
	return d, nil
}

func Validate(cfg Config) error {
	if err := ValidateIMAP(cfg); err != nil {
		return err
	}
	if err := ValidateSMTP(cfg); err != nil {
		return err
	}
	return nil
}

func ValidateIMAP(cfg Config) error {
	if err := validateServer(cfg, IMAP); err != nil {
		return err
	}
	if cfg.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	if cfg.Auth.Password == "" {
		return fmt.Errorf("auth.password is required")
	}
	if _, err := cfg.SlowCommand(); err != nil {
		return err
	}
	return nil
}

func ValidateSMTP(cfg Config) error {
	return validateServer(cfg, SMTP)
}

func validateServer(cfg Config, which Server) error {
	srv, err := cfg.server(which)
	if err != nil {
		return err
	}
	if srv.Host == "" {
		return fmt.Errorf("%s.host is required", which)
	}
	if srv.Port <= 0 || srv.Port > 65535 {
		return fmt.Errorf("%s.port %d is out of range", which, srv.Port)
	}
	_, err = cfg.Params(which, nil)
	return err
}
