package debug

import (
	"io"
	"net"
	"regexp"
	"strings"
)

var loginRe = regexp.MustCompile(`(?i)^(\S+ LOGIN (?:"(?:[^"\\]|\\.)*"|\S+) ).+$`)

type lineWriter struct {
	st     *Stream
	prefix string
	redact bool
}

// ClientWriter returns a writer logging raw client bytes line by line. LOGIN
// passwords are masked.
func (st *Stream) ClientWriter() io.Writer {
	return &lineWriter{st: st, prefix: prefixClient, redact: true}
}

// ServerWriter returns a writer logging raw server bytes line by line.
func (st *Stream) ServerWriter() io.Writer {
	return &lineWriter{st: st, prefix: prefixServer}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	rest := string(p)
	for rest != "" {
		i := strings.IndexByte(rest, '\n')
		if i < 0 {
			w.st.write(w.prefix, rest, false, true)
			break
		}
		line := strings.TrimSuffix(rest[:i], "\r")
		if w.redact {
			line = loginRe.ReplaceAllString(line, "${1}[PASSWORD]")
		}
		w.st.write(w.prefix, line, true, true)
		rest = rest[i+1:]
	}
	return len(p), nil
}

type conn struct {
	net.Conn
	client io.Writer
	server io.Writer
}

// WrapConn tees everything written to c as client lines and everything read
// from c as server lines.
func WrapConn(c net.Conn, st *Stream) net.Conn {
	if !st.Enabled() {
		return c
	}
	return &conn{Conn: c, client: st.ClientWriter(), server: st.ServerWriter()}
}

func (c *conn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		_, _ = c.server.Write(p[:n])
	}
	return n, err
}

func (c *conn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		_, _ = c.client.Write(p[:n])
	}
	return n, err
}
