// Package imap drives an IMAP connection with go-imap and keeps the
// selected mailbox's cached state in step with what the server reports.
package imap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imapsession/internal/conn"
	"imapsession/internal/mailbox"
	"imapsession/internal/uidmap"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

// ErrNoMailbox is returned by commands that need a selected mailbox.
var ErrNoMailbox = errors.New("no mailbox selected")

const logoutWait = 5 * time.Second

var _ conn.Connection = (*Session)(nil)

// Service opens sessions. Tests replace Connector.
type Service struct {
	Connector Connector
}

func NewService() *Service {
	return &Service{Connector: Connect}
}

// Dial opens a session with the default connector.
func Dial(ctx context.Context, p conn.Params, username, password string) (*Session, error) {
	return NewService().Open(ctx, p, username, password)
}

// Session is an authenticated IMAP connection. It is not safe for
// concurrent use; unilateral server data is applied to the selected
// mailbox after each command.
type Session struct {
	conn.Base

	client   Client
	pump     *pump
	selected *mailbox.State
}

// Open connects, negotiates TLS according to p.Secure and logs in.
func (s *Service) Open(ctx context.Context, p conn.Params, username, password string) (*Session, error) {
	connector := s.Connector
	if connector == nil {
		connector = Connect
	}

	sess := &Session{}
	if err := sess.Init(p); err != nil {
		return nil, err
	}

	sess.pump = newPump()
	c, err := connector(ctx, sess.Params(), sess.pump.updates)
	if err != nil {
		sess.pump.stop()
		return nil, sess.IOFailure("connect", err)
	}
	sess.client = c
	sess.SetConnected(true)
	sess.SetSecure(c.IsTLS())

	if err := sess.negotiate(ctx); err != nil {
		_ = sess.Close()
		return nil, err
	}

	if err := sess.run(ctx, "login", func() error {
		return c.Login(username, password)
	}); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return sess, nil
}

func (s *Session) negotiate(ctx context.Context) error {
	switch s.Mode() {
	case conn.SecureStartTLS:
		return s.StartTLS(ctx)
	case conn.SecureOpportunistic, conn.SecureRequired:
		if s.Secure() {
			return nil
		}
		ok, err := s.client.SupportStartTLS()
		if err != nil {
			return s.fail("capability", err)
		}
		if ok {
			if err := s.StartTLS(ctx); err != nil {
				return err
			}
		}
	}
	if s.Mode() == conn.SecureRequired && !s.Secure() {
		return &conn.ConfigError{Param: "secure", Err: fmt.Errorf("%w: server does not offer STARTTLS", conn.ErrInsecure)}
	}
	return nil
}

// StartTLS upgrades a plain connection. It does nothing when the connection
// is already encrypted.
func (s *Session) StartTLS(ctx context.Context) error {
	if !s.Connected() {
		return &conn.LogicError{Op: "starttls", Err: conn.ErrNotConnected}
	}
	if s.Secure() {
		return nil
	}
	cfg := s.Params().TLSConfig()
	if cfg == nil {
		return &conn.ConfigError{Param: "secure", Err: conn.ErrTLSUnavailable}
	}
	if err := s.run(ctx, "starttls", func() error {
		return s.client.StartTLS(cfg)
	}); err != nil {
		return err
	}
	s.SetSecure(true)
	s.Debug().Info("STARTTLS negotiated", true)
	return nil
}

// Selected returns the state of the selected mailbox, or nil.
func (s *Session) Selected() *mailbox.State {
	return s.selected
}

// Select opens name and replaces the cached state with the SELECT (or
// EXAMINE) response.
func (s *Session) Select(ctx context.Context, name string, readOnly bool) (*mailbox.State, error) {
	// Untagged data seen while selecting is already part of status and must
	// not reach the previous mailbox.
	prev := s.selected
	s.selected = nil

	var status *imap.MailboxStatus
	if err := s.run(ctx, "select", func() error {
		var err error
		status, err = s.client.Select(name, readOnly)
		return err
	}); err != nil {
		return nil, err
	}

	st := prev
	if st == nil || st.Name != name {
		st = mailbox.New(name)
	}
	st.NotifySelect()
	st.ReadOnly = status.ReadOnly
	applyStatus(st, status)
	s.selected = st
	return st, nil
}

// SyncUIDs fetches the UID of every message in the selected mailbox.
func (s *Session) SyncUIDs(ctx context.Context) error {
	st := s.selected
	if st == nil {
		return &conn.LogicError{Op: "sync", Err: ErrNoMailbox}
	}
	st.Reset()
	if n, ok := st.Status(mailbox.Messages).Uint(); ok && n == 0 {
		st.MarkSynced()
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, 0)
	items := []imap.FetchItem{imap.FetchUid}

	err := s.run(ctx, "fetch", func() error {
		ch := make(chan *imap.Message, 64)
		done := make(chan error, 1)
		go func() {
			done <- s.client.Fetch(seqset, items, ch)
		}()
		for msg := range ch {
			if msg != nil && msg.Uid != 0 {
				st.NotifyFetch(msg.SeqNum, msg.Uid)
			}
		}
		return <-done
	})
	if err != nil {
		return err
	}
	st.MarkSynced()
	return nil
}

// Expunge removes messages flagged \Deleted and returns the expunged
// sequence numbers in the order the server reported them.
func (s *Session) Expunge(ctx context.Context) ([]uint32, error) {
	st := s.selected
	if st == nil {
		return nil, &conn.LogicError{Op: "expunge", Err: ErrNoMailbox}
	}

	var expunged []uint32
	err := s.run(ctx, "expunge", func() error {
		ch := make(chan uint32)
		done := make(chan error, 1)
		go func() {
			done <- s.client.Expunge(ch)
		}()
		for seq := range ch {
			expungeOne(st, seq)
			expunged = append(expunged, seq)
		}
		return <-done
	})
	return expunged, err
}

// Status queries a mailbox without selecting it.
func (s *Session) Status(ctx context.Context, name string) (*mailbox.State, error) {
	items := []imap.StatusItem{
		imap.StatusMessages,
		imap.StatusRecent,
		imap.StatusUidNext,
		imap.StatusUidValidity,
		imap.StatusUnseen,
	}
	var status *imap.MailboxStatus
	if err := s.run(ctx, "status", func() error {
		var err error
		status, err = s.client.Status(name, items)
		return err
	}); err != nil {
		return nil, err
	}
	st := mailbox.New(name)
	applyStatus(st, status)
	return st, nil
}

// List returns the names of the mailboxes matching pattern, in server order.
func (s *Session) List(ctx context.Context, pattern string) ([]string, error) {
	var names []string
	err := s.run(ctx, "list", func() error {
		ch := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- s.client.List("", pattern, ch)
		}()
		for info := range ch {
			names = append(names, info.Name)
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Noop polls the server for unilateral updates.
func (s *Session) Noop(ctx context.Context) error {
	return s.run(ctx, "noop", s.client.Noop)
}

// Unselect leaves the selected mailbox without expunging. Servers without
// UNSELECT get CLOSE on a read-only selection, which expunges nothing.
func (s *Session) Unselect(ctx context.Context) error {
	st := s.selected
	if st == nil {
		return nil
	}
	err := s.run(ctx, "unselect", func() error {
		err := s.client.Unselect()
		if errors.Is(err, imapclient.ErrExtensionUnsupported) && st.ReadOnly {
			return s.client.Close()
		}
		return err
	})
	if err != nil {
		return err
	}
	st.NotifyClose()
	s.selected = nil
	return nil
}

// Close logs out and releases the connection and its debug stream. It is
// safe to call more than once.
func (s *Session) Close() error {
	if s.client == nil {
		s.shutdown()
		return nil
	}
	if !s.Connected() {
		_ = s.client.Terminate()
		s.shutdown()
		return nil
	}
	err := s.client.Logout()
	select {
	case <-s.client.LoggedOut():
	case <-time.After(logoutWait):
		_ = s.client.Terminate()
	}
	s.SetConnected(false)
	if s.selected != nil {
		s.selected.NotifyClose()
		s.selected = nil
	}
	s.shutdown()
	if err != nil && !errors.Is(err, imapclient.ErrAlreadyLoggedOut) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *Session) shutdown() {
	if s.pump != nil {
		s.pump.stop()
	}
	_ = s.Debug().Shutdown()
}

// run executes one command, aborting the connection if ctx ends first, and
// applies any unilateral data the server sent meanwhile.
func (s *Session) run(ctx context.Context, op string, fn func() error) error {
	if !s.Connected() {
		return &conn.LogicError{Op: op, Err: conn.ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.client.Terminate()
	})
	err := fn()
	if !stop() {
		s.SetConnected(false)
		return s.IOFailure(op, ctx.Err())
	}
	s.apply(s.pump.drain())
	if err != nil {
		return s.fail(op, err)
	}
	return nil
}

// fail classifies err: once go-imap has lost the connection the failure is
// an *IOError, otherwise the server refused the command.
func (s *Session) fail(op string, err error) error {
	select {
	case <-s.client.LoggedOut():
		s.SetConnected(false)
		return s.IOFailure(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Session) apply(events []event) {
	st := s.selected
	if st == nil {
		return
	}
	for _, ev := range events {
		switch ev.kind {
		case eventMailbox:
			st.NotifyStatus(mailbox.Messages, mailbox.Number(uint64(ev.messages)))
			// EXISTS updates carry the last RECENT count too; only a
			// changed count is a new RECENT response.
			if cur, ok := st.Status(mailbox.Recent).Uint(); !ok || cur != uint64(ev.recent) {
				st.NotifyStatus(mailbox.Recent, mailbox.Number(uint64(ev.recent)))
			}
		case eventExpunge:
			expungeOne(st, ev.seq)
		case eventFetch:
			st.NotifyFetch(ev.seq, ev.uid)
		}
	}
}

// expungeOne applies a single EXPUNGE response. Each number is relative to
// the numbering left by the previous one.
func expungeOne(st *mailbox.State, seq uint32) {
	st.NotifyExpunge(uidmap.NewIDSet(seq), uidmap.BySequence)
	if n, ok := st.Status(mailbox.Messages).Uint(); ok && n > 0 {
		st.NotifyStatus(mailbox.Messages, mailbox.Number(n-1))
	}
}
