// Package smtp holds an SMTP connection built on conn.Base. It covers
// connection setup and TLS negotiation only; mail transactions are left to
// the caller through Client.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"imapsession/internal/conn"
	"imapsession/internal/debug"
)

// ErrNoStartTLS is returned by StartTLS when the server does not advertise
// the extension.
var ErrNoStartTLS = errors.New("server does not offer STARTTLS")

const defaultLocalName = "localhost"

var _ conn.Connection = (*Conn)(nil)

// switchConn lets STARTTLS replace the transport underneath the debug tee,
// so the trace keeps showing plain text after the upgrade.
type switchConn struct {
	net.Conn
}

// Conn is an SMTP connection.
type Conn struct {
	conn.Base

	sw        *switchConn
	client    *smtp.Client
	localName string
	// ext replaces the client's extension list after STARTTLS.
	ext map[string]string
}

// Dial connects, reads the greeting, sends EHLO and negotiates TLS according
// to p.Secure. An empty localName sends "localhost".
func Dial(ctx context.Context, p conn.Params, localName string) (*Conn, error) {
	if localName == "" {
		localName = defaultLocalName
	}
	c := &Conn{localName: localName}
	if err := c.Init(p); err != nil {
		return nil, err
	}
	if err := c.open(ctx); err != nil {
		return nil, err
	}
	if err := c.negotiate(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) open(ctx context.Context) error {
	p := c.Params()
	dialer := &net.Dialer{Timeout: p.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", p.Addr())
	if err != nil {
		return c.IOFailure("connect", err)
	}
	c.sw = &switchConn{Conn: raw}

	if p.Secure == conn.SecureImplicit {
		if err := c.handshake(ctx); err != nil {
			_ = raw.Close()
			return err
		}
	}

	p.Debug.Infof("Connected to %s", p.Addr())
	err = c.withContext(ctx, func() error {
		client, err := smtp.NewClient(debug.WrapConn(c.sw, p.Debug), p.Host)
		if err != nil {
			return err
		}
		c.client = client
		return client.Hello(c.localName)
	})
	if err != nil {
		_ = c.sw.Close()
		return c.IOFailure("greeting", err)
	}
	c.SetConnected(true)
	return nil
}

func (c *Conn) negotiate(ctx context.Context) error {
	switch c.Mode() {
	case conn.SecureStartTLS:
		return c.StartTLS(ctx)
	case conn.SecureOpportunistic, conn.SecureRequired:
		if ok, _ := c.Extension("STARTTLS"); ok && !c.Secure() {
			if err := c.StartTLS(ctx); err != nil {
				return err
			}
		}
	}
	if c.Mode() == conn.SecureRequired && !c.Secure() {
		return &conn.ConfigError{Param: "secure", Err: fmt.Errorf("%w: %w", conn.ErrInsecure, ErrNoStartTLS)}
	}
	return nil
}

func (c *Conn) handshake(ctx context.Context) error {
	tlsConn := tls.Client(c.sw.Conn, c.Params().TLSConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return c.IOFailure("tls handshake", err)
	}
	c.sw.Conn = tlsConn
	c.SetSecure(true)
	return nil
}

// StartTLS upgrades the connection and repeats EHLO as RFC 3207 requires.
func (c *Conn) StartTLS(ctx context.Context) error {
	if !c.Connected() {
		return &conn.LogicError{Op: "starttls", Err: conn.ErrNotConnected}
	}
	if c.Secure() {
		return nil
	}
	if c.Params().TLS == nil {
		return &conn.ConfigError{Param: "secure", Err: conn.ErrTLSUnavailable}
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("starttls: %w", ErrNoStartTLS)
	}
	if _, err := c.cmd(ctx, "starttls", 220, "STARTTLS"); err != nil {
		return err
	}
	if err := c.handshake(ctx); err != nil {
		c.SetConnected(false)
		_ = c.sw.Close()
		return err
	}
	c.Debug().Info("STARTTLS negotiated", true)

	msg, err := c.cmd(ctx, "ehlo", 250, "EHLO %s", c.localName)
	if err != nil {
		return err
	}
	c.ext = parseExtensions(msg)
	return nil
}

// Extension reports whether the server advertised name, and its parameters.
func (c *Conn) Extension(name string) (bool, string) {
	if c.client == nil {
		return false, ""
	}
	if c.ext == nil {
		return c.client.Extension(name)
	}
	param, ok := c.ext[strings.ToUpper(name)]
	return ok, param
}

// Client exposes the underlying net/smtp client for mail transactions.
func (c *Conn) Client() *smtp.Client {
	return c.client
}

// Noop checks that the server is still responding.
func (c *Conn) Noop(ctx context.Context) error {
	_, err := c.cmd(ctx, "noop", 250, "NOOP")
	return err
}

// Close sends QUIT and releases the connection and its debug stream. It is
// safe to call more than once.
func (c *Conn) Close() error {
	defer func() {
		_ = c.Debug().Shutdown()
	}()
	if c.client == nil || !c.Connected() {
		if c.sw != nil {
			_ = c.sw.Close()
		}
		return nil
	}
	c.SetConnected(false)
	if err := c.client.Quit(); err != nil {
		_ = c.client.Close()
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}

func (c *Conn) cmd(ctx context.Context, op string, expect int, format string, args ...any) (string, error) {
	if !c.Connected() {
		return "", &conn.LogicError{Op: op, Err: conn.ErrNotConnected}
	}
	var msg string
	err := c.withContext(ctx, func() error {
		text := c.client.Text
		id, err := text.Cmd(format, args...)
		if err != nil {
			return err
		}
		text.StartResponse(id)
		defer text.EndResponse(id)
		_, msg, err = text.ReadResponse(expect)
		return err
	})
	if err != nil {
		return "", c.fail(op, err)
	}
	return msg, nil
}

// withContext bounds fn by ctx through the transport deadline.
func (c *Conn) withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.sw.SetDeadline(deadline)
		defer func() { _ = c.sw.SetDeadline(time.Time{}) }()
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.sw.SetDeadline(time.Now())
	})
	err := fn()
	if !stop() {
		return ctx.Err()
	}
	return err
}

// fail separates replies the server refused from a broken transport.
func (c *Conn) fail(op string, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.SetConnected(false)
	return c.IOFailure(op, err)
}

func parseExtensions(msg string) map[string]string {
	ext := make(map[string]string)
	lines := strings.Split(msg, "\n")
	if len(lines) <= 1 {
		return ext
	}
	for _, line := range lines[1:] {
		key, param, _ := strings.Cut(line, " ")
		ext[strings.ToUpper(key)] = param
	}
	return ext
}
