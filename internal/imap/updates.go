package imap

import (
	imapclient "github.com/emersion/go-imap/client"
)

type eventKind int

const (
	eventMailbox eventKind = iota
	eventExpunge
	eventFetch
)

// event is a copy of a unilateral update taken when it arrives. go-imap
// keeps mutating the mailbox status it points to.
type event struct {
	kind     eventKind
	messages uint32
	recent   uint32
	seq      uint32
	uid      uint32
}

// pump receives unilateral updates on the go-imap reader goroutine's behalf
// and hands them to the session owner on request. The reader must never
// block on the updates channel, or the command it is serving stalls.
type pump struct {
	updates chan imapclient.Update
	flush   chan chan []event
	done    chan struct{}
	exited  chan struct{}
}

func newPump() *pump {
	p := &pump{
		updates: make(chan imapclient.Update),
		flush:   make(chan chan []event),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *pump) run() {
	defer close(p.exited)
	var pending []event
	for {
		select {
		case u := <-p.updates:
			if ev, ok := toEvent(u); ok {
				pending = append(pending, ev)
			}
		case reply := <-p.flush:
			reply <- pending
			pending = nil
		case <-p.done:
			return
		}
	}
}

// drain returns the events received so far. The updates channel is
// unbuffered, so every update sent before the last command completed is
// included.
func (p *pump) drain() []event {
	reply := make(chan []event, 1)
	select {
	case p.flush <- reply:
		return <-reply
	case <-p.exited:
		return nil
	}
}

func (p *pump) stop() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	<-p.exited
}

func toEvent(u imapclient.Update) (event, bool) {
	switch u := u.(type) {
	case *imapclient.MailboxUpdate:
		if u.Mailbox == nil {
			return event{}, false
		}
		// go-imap guards the status with ItemsLocker but writes Messages and
		// Recent under its own client lock. A later EXISTS or RECENT can land
		// before this copy; the counts are absolute, so the copy then carries
		// the newer value and the next update repeats it.
		u.Mailbox.ItemsLocker.Lock()
		ev := event{kind: eventMailbox, messages: u.Mailbox.Messages, recent: u.Mailbox.Recent}
		u.Mailbox.ItemsLocker.Unlock()
		return ev, true
	case *imapclient.ExpungeUpdate:
		return event{kind: eventExpunge, seq: u.SeqNum}, true
	case *imapclient.MessageUpdate:
		if u.Message == nil || u.Message.Uid == 0 {
			return event{}, false
		}
		return event{kind: eventFetch, seq: u.Message.SeqNum, uid: u.Message.Uid}, true
	}
	return event{}, false
}
