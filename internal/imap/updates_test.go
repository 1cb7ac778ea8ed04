package imap

import (
	"sync"
	"testing"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/google/go-cmp/cmp"
)

func TestToEventCopiesMailboxUnderLock(t *testing.T) {
	status := imap.NewMailboxStatus("INBOX", []imap.StatusItem{imap.StatusMessages, imap.StatusRecent})
	status.Messages = 4
	status.Recent = 1

	got, ok := toEvent(&imapclient.MailboxUpdate{Mailbox: status})
	if !ok {
		t.Fatalf("mailbox update dropped")
	}
	want := event{kind: eventMailbox, messages: 4, recent: 1}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(event{})); diff != "" {
		t.Fatalf("event mismatch (-want +got):\n%s", diff)
	}

	// The reader keeps updating the same status while events are taken.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(5); i < 105; i++ {
			status.ItemsLocker.Lock()
			status.Messages = i
			status.ItemsLocker.Unlock()
		}
	}()
	for i := 0; i < 100; i++ {
		ev, _ := toEvent(&imapclient.MailboxUpdate{Mailbox: status})
		if ev.messages < 4 || ev.messages > 104 {
			t.Fatalf("messages = %d, want a value the reader wrote", ev.messages)
		}
	}
	wg.Wait()

	if diff := cmp.Diff(want, got, cmp.AllowUnexported(event{})); diff != "" {
		t.Fatalf("earlier event changed (-want +got):\n%s", diff)
	}
}

func TestToEventIgnoresEmptyUpdates(t *testing.T) {
	for _, u := range []imapclient.Update{
		&imapclient.MailboxUpdate{},
		&imapclient.MessageUpdate{},
		&imapclient.MessageUpdate{Message: &imap.Message{SeqNum: 3}},
		&imapclient.StatusUpdate{},
	} {
		if ev, ok := toEvent(u); ok {
			t.Errorf("toEvent(%T) = %+v, want dropped", u, ev)
		}
	}
}
