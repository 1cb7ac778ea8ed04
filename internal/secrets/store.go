// Package secrets keeps account passwords in the system keyring, falling back
// to an encrypted file store where no keyring service runs.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"imapsession/internal/config"
)

const (
	keyringPasswordEnv = "IMAPSESSION_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = "IMAPSESSION_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential
)

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingAccount        = errors.New("missing account")
	errMissingPassword       = errors.New("missing password")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	errKeyringTimeout        = errors.New("keyring connection timed out")
	openKeyringFunc          = openKeyring
	keyringOpenFunc          = keyring.Open
)

// Backend names accepted in keyring_backend and IMAPSESSION_KEYRING_BACKEND.
const (
	BackendAuto     = "auto"
	BackendKeychain = "keychain"
	BackendSecret   = "secret-service"
	BackendFile     = "file"
)

type BackendInfo struct {
	Value  string
	Source string
}

// keyringOpenTimeout bounds keyring.Open. On headless Linux the D-Bus secret
// service can hang when gnome-keyring is installed but not running.
const keyringOpenTimeout = 5 * time.Second

func readBackendFromConfig() (string, error) {
	path, err := config.ConfigPath()
	if err != nil {
		return "", err
	}

	b, err := os.ReadFile(path) //nolint:gosec // config path is trusted
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}

	var cfg struct {
		KeyringBackend string `yaml:"keyring_backend"`
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return "", fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.KeyringBackend, nil
}

// ResolveBackend reports which keyring backend is in effect and where the
// choice came from: env, config or default.
func ResolveBackend() (BackendInfo, error) {
	if v := normalize(os.Getenv(keyringBackendEnv)); v != "" {
		return BackendInfo{Value: v, Source: "env"}, nil
	}

	v, err := readBackendFromConfig()
	if err != nil {
		return BackendInfo{}, fmt.Errorf("resolve keyring backend: %w", err)
	}
	if v = normalize(v); v != "" {
		return BackendInfo{Value: v, Source: "config"}, nil
	}

	return BackendInfo{Value: BackendAuto, Source: "default"}, nil
}

func allowedBackends(info BackendInfo) ([]keyring.BackendType, error) {
	switch info.Value {
	case "", BackendAuto:
		return nil, nil
	case BackendKeychain:
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case BackendSecret:
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case BackendFile:
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s, %s, %s or %s)",
			errInvalidKeyringBackend, info.Value, BackendAuto, BackendKeychain, BackendSecret, BackendFile)
	}
}

func filePasswordFunc(password string, passwordSet, isTTY bool) keyring.PromptFunc {
	// An empty passphrase set on purpose is valid.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}
	if isTTY {
		return keyring.TerminalPrompt
	}
	return func(string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func forceFileBackend(goos string, info BackendInfo, dbusAddr string) bool {
	return goos == "linux" && info.Value == BackendAuto && dbusAddr == ""
}

func openKeyring() (keyring.Keyring, error) {
	dir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, fmt.Errorf("ensure keyring dir: %w", err)
	}

	info, err := ResolveBackend()
	if err != nil {
		return nil, err
	}
	backends, err := allowedBackends(info)
	if err != nil {
		return nil, err
	}

	dbusAddr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if forceFileBackend(runtime.GOOS, info, dbusAddr) {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	cfg := keyring.Config{
		ServiceName:      config.AppName,
		AllowedBackends:  backends,
		FileDir:          dir,
		FilePasswordFunc: filePasswordFunc(password, passwordSet, term.IsTerminal(int(os.Stdin.Fd()))),
	}
	return openWithTimeout(cfg, keyringOpenTimeout)
}

func openWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	type result struct {
		ring keyring.Keyring
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- result{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v; set %s=file and %s=<password> to use encrypted file storage instead",
			errKeyringTimeout, timeout, keyringBackendEnv, keyringPasswordEnv)
	}
}

// SetPassword stores the password of account, which is usually user@host.
func SetPassword(account, password string) error {
	account = normalize(account)
	if account == "" {
		return errMissingAccount
	}
	if password == "" {
		return errMissingPassword
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}
	item := keyring.Item{
		Key:   passwordKey(account),
		Data:  []byte(password),
		Label: config.AppName + " " + account,
	}
	if err := ring.Set(item); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	return nil
}

func GetPassword(account string) (string, error) {
	account = normalize(account)
	if account == "" {
		return "", errMissingAccount
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(passwordKey(account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(item.Data), nil
}

// DeletePassword forgets the password of account. A missing entry is not an
// error.
func DeletePassword(account string) error {
	account = normalize(account)
	if account == "" {
		return errMissingAccount
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}
	if err := ring.Remove(passwordKey(account)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("remove password: %w", err)
	}
	return nil
}

func passwordKey(account string) string {
	return "imap:password:" + account
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
