package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"sync"
	"testing"

	"imapsession/internal/conn"
	"imapsession/internal/debug"
	"imapsession/internal/mailbox"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/google/go-cmp/cmp"
)

type mockClient struct {
	updates chan<- imapclient.Update

	isTLS        bool
	offersTLS    bool
	startedTLS   bool
	loginErr     error
	loggedOut    chan struct{}
	closeOnce    sync.Once
	logoutCalled bool

	selectStatus  *imap.MailboxStatus
	selectUpdates []imapclient.Update
	messages      []*imap.Message
	fetchCalls    int
	expunged      []uint32
	noopUpdates   []imapclient.Update
	hasUnselect   bool
	closed        bool
	listNames     []string

	block   bool
	blocked chan struct{}
}

func newMock() *mockClient {
	return &mockClient{
		offersTLS:   true,
		hasUnselect: true,
		loggedOut:   make(chan struct{}),
		blocked:     make(chan struct{}),
	}
}

func (m *mockClient) send(updates []imapclient.Update) {
	for _, u := range updates {
		m.updates <- u
	}
}

func (m *mockClient) Login(username, password string) error { return m.loginErr }
func (m *mockClient) Logout() error {
	m.logoutCalled = true
	_ = m.Terminate()
	return nil
}
func (m *mockClient) Terminate() error {
	m.closeOnce.Do(func() { close(m.loggedOut) })
	return nil
}
func (m *mockClient) LoggedOut() <-chan struct{} { return m.loggedOut }
func (m *mockClient) IsTLS() bool { return m.isTLS }
func (m *mockClient) SupportStartTLS() (bool, error) { return m.offersTLS, nil }
func (m *mockClient) StartTLS(tlsConfig *tls.Config) error {
	m.startedTLS = true
	return nil
}
func (m *mockClient) Noop() error {
	if m.block {
		close(m.blocked)
		<-m.loggedOut
		return errors.New("imap: connection closed")
	}
	m.send(m.noopUpdates)
	return nil
}
func (m *mockClient) List(ref, name string, ch chan *imap.MailboxInfo) error {
	for _, mailbox := range m.listNames {
		ch <- &imap.MailboxInfo{Name: mailbox}
	}
	close(ch)
	return nil
}
func (m *mockClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	m.send(m.selectUpdates)
	if m.selectStatus == nil {
		return nil, errors.New("Mailbox doesn't exist")
	}
	m.selectStatus.Name = name
	return m.selectStatus, nil
}
func (m *mockClient) Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error) {
	return &imap.MailboxStatus{
		Name:     name,
		Items:    map[imap.StatusItem]interface{}{imap.StatusMessages: nil, imap.StatusUnseen: nil},
		Messages: 7,
		Unseen:   2,
	}, nil
}
func (m *mockClient) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	m.fetchCalls++
	for _, msg := range m.messages {
		ch <- msg
	}
	close(ch)
	return nil
}
func (m *mockClient) Expunge(ch chan uint32) error {
	for _, seq := range m.expunged {
		ch <- seq
	}
	close(ch)
	return nil
}
func (m *mockClient) Unselect() error {
	if !m.hasUnselect {
		return imapclient.ErrExtensionUnsupported
	}
	return nil
}
func (m *mockClient) Close() error {
	m.closed = true
	return nil
}

func openWithMock(t *testing.T, mock *mockClient, p conn.Params) *Session {
	t.Helper()
	svc := &Service{Connector: func(ctx context.Context, p conn.Params, updates chan<- imapclient.Update) (Client, error) {
		mock.updates = updates
		return mock, nil
	}}
	sess, err := svc.Open(context.Background(), p, "joe", "secret")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func inboxStatus(messages, recent uint32) *imap.MailboxStatus {
	return &imap.MailboxStatus{
		Items: map[imap.StatusItem]interface{}{
			imap.StatusMessages:    nil,
			imap.StatusRecent:      nil,
			imap.StatusUidNext:     nil,
			imap.StatusUidValidity: nil,
		},
		Flags:          []string{imap.SeenFlag, imap.DeletedFlag},
		PermanentFlags: []string{imap.SeenFlag, imap.DeletedFlag},
		Messages:       messages,
		Recent:         recent,
		UidNext:        21,
		UidValidity:    42,
	}
}

func messages(uids ...uint32) []*imap.Message {
	out := make([]*imap.Message, len(uids))
	for i, uid := range uids {
		out[i] = &imap.Message{SeqNum: uint32(i + 1), Uid: uid}
	}
	return out
}

func number(t *testing.T, st *mailbox.State, key mailbox.StatusKey) uint64 {
	t.Helper()
	n, ok := st.Status(key).Uint()
	if !ok {
		t.Fatalf("%s is %s, want a number", key, st.Status(key))
	}
	return n
}

func TestOpenFailsFastWithoutTLS(t *testing.T) {
	called := false
	svc := &Service{Connector: func(ctx context.Context, p conn.Params, updates chan<- imapclient.Update) (Client, error) {
		called = true
		return newMock(), nil
	}}
	_, err := svc.Open(context.Background(), conn.Params{Host: "imap.example.com", Secure: conn.SecureStartTLS}, "joe", "secret")
	var cfgErr *conn.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *conn.ConfigError, got %v", err)
	}
	if called {
		t.Fatalf("connector should not be called")
	}
}

func TestOpenOpportunisticUpgrades(t *testing.T) {
	mock := newMock()
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com", Secure: conn.SecureOpportunistic, TLS: &tls.Config{}})
	if !mock.startedTLS || !sess.Secure() {
		t.Fatalf("expected STARTTLS upgrade")
	}
}

func TestOpenOpportunisticStaysPlain(t *testing.T) {
	mock := newMock()
	mock.offersTLS = false
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com", Secure: conn.SecureOpportunistic, TLS: &tls.Config{}})
	if mock.startedTLS || sess.Secure() {
		t.Fatalf("expected plain connection")
	}
}

func TestOpenRequiredWithoutStartTLS(t *testing.T) {
	mock := newMock()
	mock.offersTLS = false
	svc := &Service{Connector: func(ctx context.Context, p conn.Params, updates chan<- imapclient.Update) (Client, error) {
		mock.updates = updates
		return mock, nil
	}}
	_, err := svc.Open(context.Background(), conn.Params{Host: "imap.example.com", Secure: conn.SecureRequired, TLS: &tls.Config{}}, "joe", "secret")
	if !errors.Is(err, conn.ErrInsecure) {
		t.Fatalf("expected ErrInsecure, got %v", err)
	}
	if !mock.logoutCalled {
		t.Fatalf("expected logout after failure")
	}
}

func TestOpenImplicitTLS(t *testing.T) {
	mock := newMock()
	mock.isTLS = true
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com", Port: 993, Secure: conn.SecureImplicit, TLS: &tls.Config{}})
	if mock.startedTLS {
		t.Fatalf("STARTTLS must not be sent on an implicit TLS connection")
	}
	if !sess.Secure() {
		t.Fatalf("expected secure session")
	}
}

func TestOpenLoginFailure(t *testing.T) {
	mock := newMock()
	mock.loginErr = errors.New("Invalid credentials")
	svc := &Service{Connector: func(ctx context.Context, p conn.Params, updates chan<- imapclient.Update) (Client, error) {
		mock.updates = updates
		return mock, nil
	}}
	_, err := svc.Open(context.Background(), conn.Params{Host: "imap.example.com"}, "joe", "wrong")
	if err == nil || !strings.Contains(err.Error(), "login: Invalid credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
	var ioErr *conn.IOError
	if errors.As(err, &ioErr) {
		t.Fatalf("a refused login is not an I/O failure")
	}
}

func TestSelectAppliesStatus(t *testing.T) {
	mock := newMock()
	mock.selectStatus = inboxStatus(3, 1)
	mock.selectStatus.UnseenSeqNum = 2
	mock.selectUpdates = []imapclient.Update{
		&imapclient.MailboxUpdate{Mailbox: &imap.MailboxStatus{Messages: 3, Recent: 1}},
	}
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com"})

	st, err := sess.Select(context.Background(), "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sess.Selected() != st {
		t.Fatalf("selected mailbox not recorded")
	}
	if got := number(t, st, mailbox.Messages); got != 3 {
		t.Fatalf("messages = %d", got)
	}
	if got := number(t, st, mailbox.RecentTotal); got != 1 {
		t.Fatalf("recent total = %d, want 1", got)
	}
	if got := number(t, st, mailbox.UIDValidity); got != 42 {
		t.Fatalf("uidvalidity = %d", got)
	}
	if got := number(t, st, mailbox.FirstUnseen); got != 2 {
		t.Fatalf("first unseen = %d", got)
	}
	if !st.Status(mailbox.Unseen).IsUnknown() {
		t.Fatalf("unseen should be unknown after SELECT")
	}
	if diff := cmp.Diff([]string{imap.SeenFlag, imap.DeletedFlag}, st.Status(mailbox.PermFlags).Flags()); diff != "" {
		t.Fatalf("permflags mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectEmptyMailbox(t *testing.T) {
	mock := newMock()
	mock.selectStatus = inboxStatus(0, 0)
	mock.selectStatus.PermanentFlags = nil
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com"})

	st, err := sess.Select(context.Background(), "Archive", true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !st.Status(mailbox.FirstUnseen).IsNone() {
		t.Fatalf("first unseen = %s, want none", st.Status(mailbox.FirstUnseen))
	}
	if diff := cmp.Diff([]string{imap.SeenFlag, imap.DeletedFlag, mailbox.AllFlags}, st.Status(mailbox.PermFlags).Flags()); diff != "" {
		t.Fatalf("permflags mismatch (-want +got):\n%s", diff)
	}

	if err := sess.SyncUIDs(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if mock.fetchCalls != 0 {
		t.Fatalf("empty mailbox should not be fetched")
	}
	if !st.Synced() {
		t.Fatalf("expected synced")
	}
}

func TestSelectFailureClearsSelection(t *testing.T) {
	mock := newMock()
	mock.selectStatus = inboxStatus(1, 0)
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com"})
	if _, err := sess.Select(context.Background(), "INBOX", false); err != nil {
		t.Fatalf("select: %v", err)
	}

	mock.selectStatus = nil
	if _, err := sess.Select(context.Background(), "Missing", false); err == nil {
		t.Fatalf("expected select failure")
	}
	if sess.Selected() != nil {
		t.Fatalf("failed SELECT leaves no mailbox selected")
	}
	if !sess.Connected() {
		t.Fatalf("a refused SELECT must not drop the connection")
	}
}

func TestSyncAndExpunge(t *testing.T) {
	mock := newMock()
	mock.selectStatus = inboxStatus(4, 0)
	mock.messages = messages(10, 11, 12, 13)
	mock.expunged = []uint32{2, 2}
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com"})

	st, err := sess.Select(context.Background(), "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := sess.SyncUIDs(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if diff := cmp.Diff([]uint32{10, 11, 12, 13}, st.Map().UIDs()); diff != "" {
		t.Fatalf("uids mismatch (-want +got):\n%s", diff)
	}

	got, err := sess.Expunge(context.Background())
	if err != nil {
		t.Fatalf("expunge: %v", err)
	}
	if diff := cmp.Diff([]uint32{2, 2}, got); diff != "" {
		t.Fatalf("expunged mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{10, 13}, st.Map().UIDs()); diff != "" {
		t.Fatalf("uids after expunge mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{1, 2}, st.Map().Seq()); diff != "" {
		t.Fatalf("seqs after expunge mismatch (-want +got):\n%s", diff)
	}
	if got := number(t, st, mailbox.Messages); got != 2 {
		t.Fatalf("messages = %d, want 2", got)
	}
}

func TestUnilateralUpdates(t *testing.T) {
	mock := newMock()
	mock.selectStatus = inboxStatus(4, 0)
	mock.messages = messages(10, 11, 12, 13)
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com"})

	st, err := sess.Select(context.Background(), "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := sess.SyncUIDs(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	mock.noopUpdates = []imapclient.Update{
		&imapclient.ExpungeUpdate{SeqNum: 1},
		&imapclient.MailboxUpdate{Mailbox: &imap.MailboxStatus{Messages: 4, Recent: 1}},
		&imapclient.MessageUpdate{Message: &imap.Message{SeqNum: 4, Uid: 20}},
		&imapclient.StatusUpdate{Status: &imap.StatusResp{Type: imap.StatusRespOk, Info: "still here"}},
	}
	if err := sess.Noop(context.Background()); err != nil {
		t.Fatalf("noop: %v", err)
	}

	if diff := cmp.Diff([]uint32{11, 12, 13, 20}, st.Map().UIDs()); diff != "" {
		t.Fatalf("uids mismatch (-want +got):\n%s", diff)
	}
	if got := number(t, st, mailbox.Messages); got != 4 {
		t.Fatalf("messages = %d, want 4", got)
	}
	if got := number(t, st, mailbox.RecentTotal); got != 1 {
		t.Fatalf("recent total = %d, want 1", got)
	}
}

func TestCommandsNeedSelection(t *testing.T) {
	sess := openWithMock(t, newMock(), conn.Params{Host: "imap.example.com"})

	if err := sess.SyncUIDs(context.Background()); !errors.Is(err, ErrNoMailbox) {
		t.Fatalf("sync without selection: %v", err)
	}
	if _, err := sess.Expunge(context.Background()); !errors.Is(err, ErrNoMailbox) {
		t.Fatalf("expunge without selection: %v", err)
	}
}

func TestStatusDoesNotTouchSelection(t *testing.T) {
	sess := openWithMock(t, newMock(), conn.Params{Host: "imap.example.com"})

	st, err := sess.Status(context.Background(), "Archive")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Name != "Archive" || number(t, st, mailbox.Messages) != 7 || number(t, st, mailbox.Unseen) != 2 {
		t.Fatalf("unexpected status for %s", st.Name)
	}
	if !st.Status(mailbox.UIDValidity).IsUnknown() {
		t.Fatalf("uidvalidity was not requested")
	}
	if sess.Selected() != nil {
		t.Fatalf("STATUS must not select")
	}
}

func TestListMailboxes(t *testing.T) {
	mock := newMock()
	mock.listNames = []string{"INBOX", "Archive"}
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com"})

	names, err := sess.List(context.Background(), "*")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"INBOX", "Archive"}, names); diff != "" {
		t.Fatalf("mailboxes mismatch (-want +got):\n%s", diff)
	}
}

func TestUnselectFallsBackToClose(t *testing.T) {
	mock := newMock()
	mock.hasUnselect = false
	mock.selectStatus = inboxStatus(1, 0)
	mock.selectStatus.ReadOnly = true
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com"})

	if _, err := sess.Select(context.Background(), "INBOX", true); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := sess.Unselect(context.Background()); err != nil {
		t.Fatalf("unselect: %v", err)
	}
	if !mock.closed || sess.Selected() != nil {
		t.Fatalf("expected CLOSE fallback")
	}
}

func TestCanceledCommandDropsConnection(t *testing.T) {
	mock := newMock()
	mock.block = true
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-mock.blocked
		cancel()
	}()

	err := sess.Noop(ctx)
	var ioErr *conn.IOError
	if !errors.As(err, &ioErr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected IOError wrapping context.Canceled, got %v", err)
	}
	if sess.Connected() {
		t.Fatalf("session should be disconnected")
	}
	if err := sess.Noop(context.Background()); !errors.Is(err, conn.ErrNotConnected) {
		t.Fatalf("command after failure: %v", err)
	}
}

func TestCloseShutsDownDebug(t *testing.T) {
	var buf bytes.Buffer
	mock := newMock()
	stream := debug.New(&buf)
	sess := openWithMock(t, mock, conn.Params{Host: "imap.example.com", Debug: stream})

	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !mock.logoutCalled {
		t.Fatalf("expected logout")
	}
	if stream.Enabled() {
		t.Fatalf("debug stream should be shut down")
	}
	if sess.Connected() {
		t.Fatalf("session should be disconnected")
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSessionIsNotSerializable(t *testing.T) {
	sess := openWithMock(t, newMock(), conn.Params{Host: "imap.example.com"})
	if _, err := sess.MarshalJSON(); !errors.Is(err, conn.ErrNotSerializable) {
		t.Fatalf("expected ErrNotSerializable, got %v", err)
	}
}
