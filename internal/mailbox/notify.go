package mailbox

import "imapsession/internal/uidmap"

// The Notify methods are the entry points used by the protocol engine while
// it parses server responses.

// NotifyFetch records a FETCH response carrying a UID.
func (s *State) NotifyFetch(seq, uid uint32) {
	s.ids.Add(seq, uid)
}

// NotifyExpunge removes expunged messages. One call per EXPUNGE response,
// applied in the order the server sent them.
func (s *State) NotifyExpunge(ids uidmap.IDSet, kind uidmap.Kind) {
	s.ids.Remove(ids, kind)
}

func (s *State) NotifyStatus(key StatusKey, v Value) {
	s.SetStatus(key, v)
}

// NotifySelect is called when the mailbox is (re)selected.
func (s *State) NotifySelect() {
	s.Reset()
	delete(s.status, RecentTotal)
}

// NotifyClose is called when the mailbox is closed or unselected.
func (s *State) NotifyClose() {
	s.Reset()
}
