package conn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSerializable is wrapped by the LogicError returned when a live
	// connection is marshaled or unmarshaled.
	ErrNotSerializable = errors.New("connection cannot be serialized")
	// ErrCopied is wrapped by the LogicError raised when a copied connection
	// is used.
	ErrCopied = errors.New("connection was copied")
	// ErrTLSUnavailable is wrapped by the ConfigError returned when a secure
	// connection is required without TLS support.
	ErrTLSUnavailable = errors.New("secure connections require TLS support")
	// ErrInsecure is returned when SecureRequired could not be satisfied.
	ErrInsecure = errors.New("connection is not encrypted")
	ErrNotConnected = errors.New("not connected")
)

// ConfigError reports an unusable connection configuration. It is returned
// before any network I/O takes place.
type ConfigError struct {
	Param string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("connection config %s: %v", e.Param, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LogicError reports misuse of a connection by the program itself.
type LogicError struct {
	Op  string
	Err error
}

func (e *LogicError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LogicError) Unwrap() error { return e.Err }

// IOError wraps a transport failure. The connection should be considered
// dead once one is returned.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
