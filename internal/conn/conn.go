// Package conn holds what every mail protocol connection shares: secure mode
// validation, the connected and secure flags, the debug trace and the guards
// against copying or serializing a live connection.
package conn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"imapsession/internal/debug"
)

// Secure selects how a connection is protected.
type Secure int

const (
	SecureNone Secure = iota
	// SecureOpportunistic upgrades with STARTTLS when the server offers it
	// and silently stays in plain text otherwise.
	SecureOpportunistic
	// SecureStartTLS connects in plain text and must upgrade with STARTTLS.
	SecureStartTLS
	// SecureImplicit negotiates TLS before the greeting.
	SecureImplicit
	// SecureRequired uses STARTTLS and fails unless the connection ends up
	// encrypted.
	SecureRequired
)

var secureNames = map[Secure]string{
	SecureNone:          "none",
	SecureOpportunistic: "opportunistic",
	SecureStartTLS:      "tls",
	SecureImplicit:      "ssl",
	SecureRequired:      "true",
}

func (s Secure) String() string {
	if name, ok := secureNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Secure(%d)", int(s))
}

// ParseSecure accepts the names used in configuration files.
func ParseSecure(v string) (Secure, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "none", "false", "plain":
		return SecureNone, nil
	case "opportunistic", "auto":
		return SecureOpportunistic, nil
	case "tls", "starttls":
		return SecureStartTLS, nil
	case "ssl", "implicit":
		return SecureImplicit, nil
	case "true", "required":
		return SecureRequired, nil
	default:
		return SecureNone, fmt.Errorf("unknown secure mode %q", v)
	}
}

// Params describe a connection before it is opened.
type Params struct {
	Host   string
	Port   int
	Secure Secure
	// TLS is the client TLS configuration. A nil TLS means secure channels
	// are not available.
	TLS     *tls.Config
	Timeout time.Duration
	Debug   *debug.Stream
}

func (p Params) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// TLSConfig returns a copy of p.TLS with ServerName filled in.
func (p Params) TLSConfig() *tls.Config {
	if p.TLS == nil {
		return nil
	}
	cfg := p.TLS.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = p.Host
	}
	return cfg
}

// Connection is implemented by protocol connections built on Base.
type Connection interface {
	StartTLS(ctx context.Context) error
	Close() error
	Connected() bool
	Secure() bool
}

// Base is embedded by value in protocol connections and initialised in place
// with Init. A Base must not be copied after Init: every method of a copy
// panics with a *LogicError.
type Base struct {
	self      *Base
	params    Params
	connected bool
	secure    bool
}

// Init validates p. Requesting a secure mode without TLS support returns a
// *ConfigError, except SecureOpportunistic which falls back to plain text.
func (b *Base) Init(p Params) error {
	if b.self != nil {
		return &LogicError{Op: "init", Err: errors.New("connection already initialized")}
	}
	if p.TLS == nil {
		switch p.Secure {
		case SecureNone:
		case SecureOpportunistic:
			p.Secure = SecureNone
		default:
			return &ConfigError{Param: "secure", Err: fmt.Errorf("%w (mode %s)", ErrTLSUnavailable, p.Secure)}
		}
	}
	b.self = b
	b.params = p
	return nil
}

func (b *Base) check(op string) {
	switch b.self {
	case b:
	case nil:
		panic(&LogicError{Op: op, Err: errors.New("connection not initialized")})
	default:
		panic(&LogicError{Op: op, Err: ErrCopied})
	}
}

func (b *Base) Params() Params {
	b.check("params")
	return b.params
}

// Mode is the effective secure mode after Init.
func (b *Base) Mode() Secure {
	b.check("mode")
	return b.params.Secure
}

func (b *Base) Connected() bool {
	b.check("connected")
	return b.connected
}

func (b *Base) Secure() bool {
	b.check("secure")
	return b.secure
}

func (b *Base) SetConnected(v bool) {
	b.check("set connected")
	b.connected = v
	if !v {
		b.secure = false
	}
}

func (b *Base) SetSecure(v bool) {
	b.check("set secure")
	b.secure = v
}

func (b *Base) Debug() *debug.Stream {
	b.check("debug")
	return b.params.Debug
}

// IOFailure records a transport failure in the debug trace and wraps it in
// an *IOError. A nil err returns nil.
func (b *Base) IOFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	b.check(op)
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	b.params.Debug.Infof("ERROR: %s: %v", op, err)
	return &IOError{Op: op, Err: err}
}

func notSerializable(op string) error {
	return &LogicError{Op: op, Err: ErrNotSerializable}
}

func (Base) MarshalJSON() ([]byte, error) { return nil, notSerializable("marshal json") }

func (*Base) UnmarshalJSON([]byte) error { return notSerializable("unmarshal json") }

func (Base) MarshalText() ([]byte, error) { return nil, notSerializable("marshal text") }

func (*Base) UnmarshalText([]byte) error { return notSerializable("unmarshal text") }

func (Base) MarshalBinary() ([]byte, error) { return nil, notSerializable("marshal binary") }

func (*Base) UnmarshalBinary([]byte) error { return notSerializable("unmarshal binary") }

func (Base) GobEncode() ([]byte, error) { return nil, notSerializable("gob encode") }

func (*Base) GobDecode([]byte) error { return notSerializable("gob decode") }

func (Base) MarshalYAML() (interface{}, error) { return nil, notSerializable("marshal yaml") }
