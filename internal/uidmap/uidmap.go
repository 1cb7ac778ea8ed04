// Package uidmap keeps the correspondence between the sequence numbers of a
// selected mailbox and the UIDs of its messages.
//
// Sequence numbers are positional and shift down whenever an earlier message
// is expunged; UIDs are stable for as long as UIDVALIDITY is unchanged. A Map
// is not safe for concurrent use: it belongs to the goroutine driving the
// mailbox session.
package uidmap

import (
	"sort"
)

// Pair is one sequence number and the UID found at that position.
type Pair struct {
	Seq uint32
	UID uint32
}

// Map is an ordered sequence number to UID mapping. The zero value is an
// empty, usable map.
type Map struct {
	pairs []Pair
	// index holds the mapped sequence numbers, uids the mapped UIDs.
	index  map[uint32]struct{}
	uids   map[uint32]struct{}
	sorted bool
}

func New() *Map {
	return &Map{index: make(map[uint32]struct{}), uids: make(map[uint32]struct{}), sorted: true}
}

// Len returns the number of mapped messages.
func (m *Map) Len() int {
	return len(m.pairs)
}

// Add records uid at sequence number seq. A sequence number that is already
// mapped keeps its UID, a UID already mapped elsewhere is rejected, and zero
// values are ignored. Add reports whether the pair was stored.
func (m *Map) Add(seq, uid uint32) bool {
	if seq == 0 || uid == 0 {
		return false
	}
	if m.index == nil || m.uids == nil {
		m.sorted = m.sorted || len(m.pairs) < 2
		m.reindex()
	}
	if _, ok := m.index[seq]; ok {
		return false
	}
	if _, ok := m.uids[uid]; ok {
		return false
	}
	if n := len(m.pairs); n == 0 {
		m.sorted = true
	} else if m.pairs[n-1].Seq > seq {
		m.sorted = false
	}
	m.pairs = append(m.pairs, Pair{Seq: seq, UID: uid})
	m.index[seq] = struct{}{}
	m.uids[uid] = struct{}{}
	return true
}

// Update merges pairs (sequence number to UID) into the map. Existing
// sequence numbers are not overwritten.
func (m *Map) Update(pairs map[uint32]uint32) {
	seqs := make([]uint32, 0, len(pairs))
	for seq := range pairs {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		m.Add(seq, pairs[seq])
	}
}

// Lookup returns the part of the map matching ids, keyed by sequence number.
// With ByUID the ids are matched against UIDs.
func (m *Map) Lookup(ids IDSet, kind Kind) map[uint32]uint32 {
	out := make(map[uint32]uint32)
	if ids.IsAll() {
		for _, p := range m.pairs {
			out[p.Seq] = p.UID
		}
		return out
	}
	want := ids.members()
	for _, p := range m.pairs {
		key := p.Seq
		if kind == ByUID {
			key = p.UID
		}
		if _, ok := want[key]; ok {
			out[p.Seq] = p.UID
		}
	}
	return out
}

// Remove deletes the messages in ids and renumbers the survivors. Every id is
// interpreted against the numbering in effect before the call, so the order
// of ids does not matter. A removed sequence number that was never mapped
// still shifts the messages above it.
//
// Servers report EXPUNGE responses one at a time, each relative to the
// previous one; callers must issue one Remove per response, in order.
func (m *Map) Remove(ids IDSet, kind Kind) {
	if ids.IsAll() {
		m.pairs = nil
		m.reindex()
		m.sorted = true
		return
	}

	var removed []uint32
	if kind == ByUID {
		m.Sort()
		for seq := range m.Lookup(ids, ByUID) {
			removed = append(removed, seq)
		}
		sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	} else {
		removed = ids.IDs()
	}
	if len(removed) == 0 || len(m.pairs) == 0 {
		return
	}

	m.Sort()

	// Pairs below the lowest removed number keep their position.
	start := sort.Search(len(m.pairs), func(i int) bool {
		return m.pairs[i].Seq >= removed[0]
	})
	kept := m.pairs[:start]
	below := 0
	for _, p := range m.pairs[start:] {
		for below < len(removed) && removed[below] < p.Seq {
			below++
		}
		if below < len(removed) && removed[below] == p.Seq {
			continue
		}
		kept = append(kept, Pair{Seq: p.Seq - uint32(below), UID: p.UID})
	}
	m.pairs = kept
	m.reindex()
}

// Sort orders the map by ascending sequence number. It is a no-op on a sorted
// map.
func (m *Map) Sort() {
	if m.sorted {
		return
	}
	sort.Slice(m.pairs, func(i, j int) bool { return m.pairs[i].Seq < m.pairs[j].Seq })
	m.sorted = true
}

// Seq returns the mapped sequence numbers in ascending order.
func (m *Map) Seq() []uint32 {
	m.Sort()
	out := make([]uint32, len(m.pairs))
	for i, p := range m.pairs {
		out[i] = p.Seq
	}
	return out
}

// UIDs returns the mapped UIDs in ascending sequence number order.
func (m *Map) UIDs() []uint32 {
	m.Sort()
	out := make([]uint32, len(m.pairs))
	for i, p := range m.pairs {
		out[i] = p.UID
	}
	return out
}

// Pairs returns a copy of the map in ascending sequence number order.
func (m *Map) Pairs() []Pair {
	m.Sort()
	return append([]Pair(nil), m.pairs...)
}

// UIDOf resolves a sequence number.
func (m *Map) UIDOf(seq uint32) (uint32, bool) {
	if _, ok := m.index[seq]; !ok {
		return 0, false
	}
	for _, p := range m.pairs {
		if p.Seq == seq {
			return p.UID, true
		}
	}
	return 0, false
}

// SeqOf resolves a UID to its current sequence number.
func (m *Map) SeqOf(uid uint32) (uint32, bool) {
	if _, ok := m.uids[uid]; !ok {
		return 0, false
	}
	for _, p := range m.pairs {
		if p.UID == uid {
			return p.Seq, true
		}
	}
	return 0, false
}

func (m *Map) reindex() {
	m.index = make(map[uint32]struct{}, len(m.pairs))
	m.uids = make(map[uint32]struct{}, len(m.pairs))
	for _, p := range m.pairs {
		m.index[p.Seq] = struct{}{}
		m.uids[p.UID] = struct{}{}
	}
}
