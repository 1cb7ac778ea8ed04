// Package debug writes a human readable trace of a protocol session.
//
// Lines are tagged by origin ("C: " client, "S: " server, ">> " info) and
// timed: the first timed line opens the session with a banner, and a gap
// longer than the slow-command threshold between two timed lines is
// annotated. A message without a trailing newline is held back and joined
// with the next one.
package debug

import (
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SlowCommand is the default gap after which a command is reported as slow.
const SlowCommand = 3 * time.Second

const (
	prefixClient = "C: "
	prefixServer = "S: "
	prefixInfo   = ">> "
)

type Option func(*sink)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *sink) { s.now = now }
}

func WithSlowThreshold(d time.Duration) Option {
	return func(s *sink) {
		if d > 0 {
			s.slow = d
		}
	}
}

// WithLabel names the protocol in slow-command annotations ("IMAP", "SMTP").
func WithLabel(label string) Option {
	return func(s *sink) { s.label = strings.TrimSpace(label) }
}

// Stream is a debug trace. A nil *Stream, or one created without a sink,
// discards everything. Stream is safe for concurrent use so it can be shared
// with a client library's reader goroutine.
type Stream struct {
	s       *sink
	cleanup runtime.Cleanup
}

type sink struct {
	mu      sync.Mutex
	out     io.Writer
	owned   bool
	partial []byte
	started bool
	last    time.Time
	label   string
	slow    time.Duration
	now     func() time.Time
}

// New returns a stream writing to w. w is not closed by Shutdown.
func New(w io.Writer, opts ...Option) *Stream {
	return newStream(w, false, opts)
}

// Open appends to the file at path, creating it if needed. The file is
// closed by Shutdown.
func Open(path string, opts ...Option) (*Stream, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	return newStream(f, true, opts), nil
}

func newStream(w io.Writer, owned bool, opts []Option) *Stream {
	sk := &sink{out: w, owned: owned, slow: SlowCommand, now: time.Now}
	for _, opt := range opts {
		opt(sk)
	}
	st := &Stream{s: sk}
	if w != nil {
		// Flush and release the sink if the stream is dropped without
		// Shutdown.
		st.cleanup = runtime.AddCleanup(st, func(sk *sink) { _ = sk.shutdown() }, sk)
	}
	return st
}

// Enabled reports whether output goes anywhere.
func (st *Stream) Enabled() bool {
	if st == nil {
		return false
	}
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.s.out != nil
}

// Client logs a command sent by the client.
func (st *Stream) Client(msg string, eol bool) {
	st.write(prefixClient, msg, eol, true)
}

// Server logs a response received from the server.
func (st *Stream) Server(msg string, eol bool) {
	st.write(prefixServer, msg, eol, true)
}

// Info logs an informational message.
func (st *Stream) Info(msg string, eol bool) {
	st.write(prefixInfo, msg, eol, true)
}

func (st *Stream) Infof(format string, args ...any) {
	st.Info(fmt.Sprintf(format, args...), true)
}

// Raw writes msg untouched: no prefix and no timing.
func (st *Stream) Raw(msg string) {
	st.write("", msg, false, false)
}

// Shutdown writes out a pending partial line, terminated by a newline, and
// closes the sink if the stream opened it. Later calls do nothing.
func (st *Stream) Shutdown() error {
	if st == nil {
		return nil
	}
	st.cleanup.Stop()
	return st.s.shutdown()
}

func (st *Stream) write(prefix, msg string, eol, timed bool) {
	if st == nil {
		return
	}
	sk := st.s
	sk.mu.Lock()
	defer sk.mu.Unlock()

	if sk.out == nil {
		return
	}
	if eol {
		msg += "\n"
	}

	var line []byte
	if len(sk.partial) > 0 {
		line = append(sk.partial, msg...)
	} else {
		if timed {
			sk.stamp()
		}
		line = append([]byte(prefix), msg...)
	}

	if strings.HasSuffix(msg, "\n") {
		_, _ = sk.out.Write(line)
		sk.partial = nil
		return
	}
	sk.partial = line
}

func (sk *sink) stamp() {
	now := sk.now()
	if !sk.started {
		sk.started = true
		fmt.Fprintf(sk.out, "%s\n%sTimestamp: %s\n", strings.Repeat("-", 30), prefixInfo, now.Format(time.RFC1123Z))
	} else if diff := now.Sub(sk.last); diff > sk.slow {
		secs := math.Round(diff.Seconds()*1000) / 1000
		fmt.Fprintf(sk.out, "%s%s: %s seconds\n", prefixInfo, sk.slowName(), strconv.FormatFloat(secs, 'f', -1, 64))
	}
	sk.last = now
}

func (sk *sink) slowName() string {
	if sk.label == "" {
		return "Slow Command"
	}
	return "Slow " + sk.label + " Command"
}

func (sk *sink) shutdown() error {
	sk.mu.Lock()
	defer sk.mu.Unlock()

	if sk.out == nil {
		return nil
	}
	var err error
	if len(sk.partial) > 0 {
		_, err = sk.out.Write(append(sk.partial, '\n'))
		sk.partial = nil
	}
	if sk.owned {
		if c, ok := sk.out.(io.Closer); ok {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}
	}
	sk.out = nil
	return err
}
