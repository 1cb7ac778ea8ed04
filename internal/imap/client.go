package imap

import (
	"context"
	"crypto/tls"
	"net"

	"imapsession/internal/conn"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

// Client is the subset of *imapclient.Client used by Session.
type Client interface {
	Login(username, password string) error
	Logout() error
	Terminate() error
	LoggedOut() <-chan struct{}
	IsTLS() bool
	SupportStartTLS() (bool, error)
	StartTLS(tlsConfig *tls.Config) error
	Noop() error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Expunge(ch chan uint32) error
	Unselect() error
	Close() error
}

// Connector opens the transport and reads the server greeting. Unilateral
// server data must be delivered to updates.
type Connector func(ctx context.Context, p conn.Params, updates chan<- imapclient.Update) (Client, error)

// Connect dials p.Addr() with go-imap, using implicit TLS for
// conn.SecureImplicit. Protocol traffic is copied to p.Debug.
func Connect(ctx context.Context, p conn.Params, updates chan<- imapclient.Update) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: p.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var c *imapclient.Client
	var err error
	if p.Secure == conn.SecureImplicit {
		c, err = imapclient.DialWithDialerTLS(dialer, p.Addr(), p.TLSConfig())
	} else {
		c, err = imapclient.DialWithDialer(dialer, p.Addr())
	}
	if err != nil {
		return nil, err
	}

	c.Updates = updates
	c.Timeout = p.Timeout
	if p.Debug.Enabled() {
		p.Debug.Infof("Connected to %s", p.Addr())
		c.SetDebug(imap.NewDebugWriter(p.Debug.ClientWriter(), p.Debug.ServerWriter()))
	}
	return c, nil
}
