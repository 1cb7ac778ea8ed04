package conn

import (
	"bytes"
	"crypto/tls"
	"encoding/gob"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"imapsession/internal/debug"
)

type fakeConn struct {
	Base
	name string
}

func newFake(t *testing.T, p Params) *fakeConn {
	t.Helper()
	c := &fakeConn{name: "fake"}
	if err := c.Init(p); err != nil {
		t.Fatalf("init: %v", err)
	}
	return c
}

func expectLogicPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		err, ok := r.(error)
		var logic *LogicError
		if !ok || !errors.As(err, &logic) || !errors.Is(err, ErrCopied) {
			t.Fatalf("panic value %v is not a copy LogicError", r)
		}
	}()
	fn()
}

func TestSecureRequiresTLSSupport(t *testing.T) {
	for _, mode := range []Secure{SecureStartTLS, SecureImplicit, SecureRequired} {
		var c fakeConn
		err := c.Init(Params{Host: "mail.example.com", Port: 143, Secure: mode})
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("mode %s: expected *ConfigError, got %v", mode, err)
		}
		if !errors.Is(err, ErrTLSUnavailable) {
			t.Fatalf("mode %s: expected ErrTLSUnavailable, got %v", mode, err)
		}
	}
}

func TestOpportunisticDowngrades(t *testing.T) {
	c := newFake(t, Params{Host: "mail.example.com", Port: 143, Secure: SecureOpportunistic})
	if c.Mode() != SecureNone {
		t.Fatalf("Mode() = %s, want none", c.Mode())
	}

	withTLS := newFake(t, Params{Host: "mail.example.com", Secure: SecureOpportunistic, TLS: &tls.Config{}})
	if withTLS.Mode() != SecureOpportunistic {
		t.Fatalf("Mode() = %s, want opportunistic", withTLS.Mode())
	}
}

func TestInitTwice(t *testing.T) {
	c := newFake(t, Params{})
	var logic *LogicError
	if err := c.Init(Params{}); !errors.As(err, &logic) {
		t.Fatalf("second Init = %v, want *LogicError", err)
	}
}

func TestCopyIsRejected(t *testing.T) {
	c := newFake(t, Params{Host: "mail.example.com"})
	c.SetConnected(true)

	cp := *c
	expectLogicPanic(t, func() { cp.Connected() })
	expectLogicPanic(t, func() { cp.SetSecure(true) })
	expectLogicPanic(t, func() { _ = cp.IOFailure("read", errors.New("eof")) })

	if !c.Connected() {
		t.Fatalf("original should still be usable")
	}
}

func TestUninitializedPanics(t *testing.T) {
	var c fakeConn
	defer func() {
		if _, ok := recover().(*LogicError); !ok {
			t.Fatalf("expected *LogicError panic")
		}
	}()
	c.Connected()
}

func TestSerializationIsRejected(t *testing.T) {
	c := newFake(t, Params{Host: "mail.example.com"})

	check := func(name string, err error) {
		t.Helper()
		var logic *LogicError
		if !errors.As(err, &logic) || !errors.Is(err, ErrNotSerializable) {
			t.Errorf("%s: expected not-serializable LogicError, got %v", name, err)
		}
	}

	_, err := json.Marshal(c)
	check("json pointer", err)
	_, err = json.Marshal(struct{ C *fakeConn }{c})
	check("json field", err)
	check("json unmarshal", json.Unmarshal([]byte(`{}`), c))
	_, err = yaml.Marshal(c)
	check("yaml", err)
	check("gob", gob.NewEncoder(&bytes.Buffer{}).Encode(c))
	_, err = c.MarshalText()
	check("text", err)
	_, err = c.MarshalBinary()
	check("binary", err)
}

func TestSetConnectedClearsSecure(t *testing.T) {
	c := newFake(t, Params{TLS: &tls.Config{}})
	c.SetConnected(true)
	c.SetSecure(true)
	c.SetConnected(false)
	if c.Secure() {
		t.Fatalf("Secure() should be false after disconnect")
	}
}

func TestIOFailure(t *testing.T) {
	var buf bytes.Buffer
	c := newFake(t, Params{Debug: debug.New(&buf)})

	if c.IOFailure("read", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}

	cause := errors.New("connection reset")
	err := c.IOFailure("read", cause)
	var ioErr *IOError
	if !errors.As(err, &ioErr) || !errors.Is(err, cause) {
		t.Fatalf("IOFailure = %v, want *IOError wrapping cause", err)
	}
	if again := c.IOFailure("close", err); again != err {
		t.Fatalf("IOError should not be wrapped twice")
	}
	if !strings.Contains(buf.String(), ">> ERROR: read: connection reset") {
		t.Fatalf("failure not traced:\n%s", buf.String())
	}
}

func TestParseSecure(t *testing.T) {
	cases := map[string]Secure{
		"":              SecureNone,
		"none":          SecureNone,
		"opportunistic": SecureOpportunistic,
		"TLS":           SecureStartTLS,
		"starttls":      SecureStartTLS,
		"ssl":           SecureImplicit,
		"true":          SecureRequired,
	}
	for in, want := range cases {
		got, err := ParseSecure(in)
		if err != nil || got != want {
			t.Errorf("ParseSecure(%q) = %s, %v, want %s", in, got, err, want)
		}
	}
	if _, err := ParseSecure("maybe"); err == nil {
		t.Errorf("ParseSecure(maybe) should fail")
	}
}

func TestTLSConfigServerName(t *testing.T) {
	p := Params{Host: "mail.example.com", Port: 993, TLS: &tls.Config{MinVersion: tls.VersionTLS12}}
	cfg := p.TLSConfig()
	if cfg.ServerName != "mail.example.com" || cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("unexpected tls config: %+v", cfg)
	}
	if p.TLS.ServerName != "" {
		t.Fatalf("TLSConfig must not modify the original")
	}
	if p.Addr() != "mail.example.com:993" {
		t.Fatalf("Addr() = %q", p.Addr())
	}
}
