package uidmap

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
)

// Kind tells Lookup and Remove how to interpret the numbers of an IDSet.
type Kind int

const (
	BySequence Kind = iota
	ByUID
)

func (k Kind) String() string {
	switch k {
	case BySequence:
		return "sequence"
	case ByUID:
		return "uid"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// maxExpand bounds how many numbers a range may expand to.
const maxExpand = 1 << 22

var errTooLarge = errors.New("uidmap: id range too large")

// IDSet is a set of message numbers, or every message of the mailbox.
// The zero value is the empty set.
type IDSet struct {
	all bool
	ids []uint32
}

// All returns the set matching every message.
func All() IDSet {
	return IDSet{all: true}
}

// NewIDSet returns a set holding ids. Zero is not a valid message number and
// is dropped.
func NewIDSet(ids ...uint32) IDSet {
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	return IDSet{ids: out}
}

// ParseIDSet parses an IMAP sequence set ("1:4,7") or the word ALL.
func ParseIDSet(v string) (IDSet, error) {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "all") {
		return All(), nil
	}
	set, err := imap.ParseSeqSet(v)
	if err != nil {
		return IDSet{}, err
	}
	return FromSeqSet(set)
}

// FromSeqSet expands a static go-imap sequence set.
func FromSeqSet(set *imap.SeqSet) (IDSet, error) {
	if set == nil {
		return IDSet{}, nil
	}
	if set.Dynamic() {
		return IDSet{}, fmt.Errorf("uidmap: dynamic sequence set %q not supported", set.String())
	}
	var ids []uint32
	for _, seq := range set.Set {
		var err error
		if ids, err = expandSeq(ids, seq); err != nil {
			return IDSet{}, err
		}
	}
	return IDSet{ids: ids}, nil
}

func expandSeq(out []uint32, seq imap.Seq) ([]uint32, error) {
	if uint64(seq.Stop)-uint64(seq.Start)+1 > uint64(maxExpand-len(out)) {
		return nil, errTooLarge
	}
	for n := seq.Start; ; n++ {
		out = append(out, n)
		if n == seq.Stop {
			break
		}
	}
	return out, nil
}

// IsAll reports whether the set matches every message.
func (s IDSet) IsAll() bool {
	return s.all
}

// Len is the number of distinct ids; it is 0 for All.
func (s IDSet) Len() int {
	return len(s.IDs())
}

// IDs returns the distinct ids in ascending order.
func (s IDSet) IDs() []uint32 {
	if len(s.ids) == 0 {
		return nil
	}
	out := append([]uint32(nil), s.ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// SeqSet converts the set to its go-imap form. All becomes "1:*".
func (s IDSet) SeqSet() *imap.SeqSet {
	set := new(imap.SeqSet)
	if s.all {
		set.AddRange(1, 0)
		return set
	}
	set.AddNum(s.ids...)
	return set
}

func (s IDSet) String() string {
	if s.all {
		return "ALL"
	}
	return s.SeqSet().String()
}

func (s IDSet) members() map[uint32]struct{} {
	m := make(map[uint32]struct{}, len(s.ids))
	for _, id := range s.ids {
		m[id] = struct{}{}
	}
	return m
}
