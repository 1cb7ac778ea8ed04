// Package mailbox caches what the server told us about the selected mailbox.
package mailbox

import (
	"fmt"

	"imapsession/internal/uidmap"
)

// StatusKey names a cached STATUS field.
type StatusKey int

const (
	Messages StatusKey = iota + 1
	Recent
	// RecentTotal accumulates every RECENT count seen since the mailbox was
	// opened.
	RecentTotal
	UIDNext
	UIDValidity
	Unseen
	FirstUnseen
	Flags
	PermFlags
	UIDNotSticky
	HighestModSeq
)

var statusNames = map[StatusKey]string{
	Messages:      "messages",
	Recent:        "recent",
	RecentTotal:   "recent_total",
	UIDNext:       "uidnext",
	UIDValidity:   "uidvalidity",
	Unseen:        "unseen",
	FirstUnseen:   "firstunseen",
	Flags:         "flags",
	PermFlags:     "permflags",
	UIDNotSticky:  "uidnotsticky",
	HighestModSeq: "highestmodseq",
}

// StatusKeys lists every key in display order.
var StatusKeys = []StatusKey{
	Messages, Recent, RecentTotal, Unseen, FirstUnseen, UIDNext,
	UIDValidity, UIDNotSticky, HighestModSeq, Flags, PermFlags,
}

func (k StatusKey) String() string {
	if name, ok := statusNames[k]; ok {
		return name
	}
	return fmt.Sprintf("StatusKey(%d)", int(k))
}

// AllFlags is the PERMANENTFLAGS entry allowing any keyword to be created.
const AllFlags = `\*`

// State is the cached status and message map of one mailbox.
type State struct {
	Name     string
	ReadOnly bool

	status map[StatusKey]Value
	ids    *uidmap.Map
	synced bool
}

func New(name string) *State {
	return &State{
		Name:   name,
		status: make(map[StatusKey]Value),
		ids:    uidmap.New(),
	}
}

// Map returns the sequence number to UID map of the current selection.
func (s *State) Map() *uidmap.Map {
	return s.ids
}

// Synced reports whether the map has been fully synchronized with the server
// since the last Reset.
func (s *State) Synced() bool {
	return s.synced
}

func (s *State) MarkSynced() {
	s.synced = true
}

// Reset drops the message map and the synced flag. Cached status values are
// kept.
func (s *State) Reset() {
	s.ids = uidmap.New()
	s.synced = false
}

// SetStatus overwrites a status value.
func (s *State) SetStatus(key StatusKey, v Value) {
	if key == Recent {
		total, _ := s.Status(RecentTotal).Uint()
		if n, ok := v.Uint(); ok {
			s.status[RecentTotal] = Number(total + n)
		}
	}
	s.status[key] = v
}

// Status returns the cached value for key. Fields the server did not report
// are inferred where RFC 3501 allows it; otherwise Unknown is returned.
func (s *State) Status(key StatusKey) Value {
	if v, ok := s.status[key]; ok {
		return v
	}

	switch key {
	case FirstUnseen:
		if s.knownEmpty() {
			return None()
		}
	case Unseen:
		if s.knownEmpty() {
			return Number(0)
		}
	case PermFlags:
		// Without PERMANENTFLAGS every flag can be changed permanently
		// (RFC 3501 6.3.1).
		flags := s.Status(Flags).Flags()
		return FlagList(append(flags, AllFlags)...)
	case Flags:
		return FlagList()
	case UIDNext, RecentTotal, HighestModSeq:
		// A server without CONDSTORE has no mod-sequences (RFC 7162 3.1.2.2).
		return Number(0)
	case UIDNotSticky:
		return Bool(false)
	}
	return Unknown()
}

func (s *State) knownEmpty() bool {
	n, ok := s.status[Messages].Uint()
	return ok && n == 0
}
