package uidmap

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
)

// Serialize encodes the map as a JSON array of two strings: the sequence
// numbers and the UIDs, both in ascending sequence number order, with runs
// of consecutive integers written as "first:last".
func (m *Map) Serialize() ([]byte, error) {
	m.Sort()
	return json.Marshal([]string{compress(m.Seq()), compress(m.UIDs())})
}

// Deserialize rebuilds a map written by Serialize.
func Deserialize(data []byte) (*Map, error) {
	var lists []string
	if err := json.Unmarshal(data, &lists); err != nil {
		return nil, fmt.Errorf("uidmap: decode: %w", err)
	}
	if len(lists) != 2 {
		return nil, fmt.Errorf("uidmap: decode: expected 2 lists, got %d", len(lists))
	}
	seqs, err := expand(lists[0])
	if err != nil {
		return nil, fmt.Errorf("uidmap: decode sequence numbers: %w", err)
	}
	uids, err := expand(lists[1])
	if err != nil {
		return nil, fmt.Errorf("uidmap: decode uids: %w", err)
	}
	if len(seqs) != len(uids) {
		return nil, fmt.Errorf("uidmap: decode: %d sequence numbers for %d uids", len(seqs), len(uids))
	}

	m := &Map{
		pairs:  make([]Pair, 0, len(seqs)),
		index:  make(map[uint32]struct{}, len(seqs)),
		uids:   make(map[uint32]struct{}, len(seqs)),
		sorted: true,
	}
	for i, seq := range seqs {
		if !m.Add(seq, uids[i]) {
			return nil, fmt.Errorf("uidmap: decode: duplicate sequence number %d or uid %d", seq, uids[i])
		}
	}
	return m, nil
}

func (m *Map) MarshalBinary() ([]byte, error) {
	return m.Serialize()
}

func (m *Map) UnmarshalBinary(data []byte) error {
	decoded, err := Deserialize(data)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// compress keeps the order of nums; only ascending runs are collapsed.
func compress(nums []uint32) string {
	var b strings.Builder
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(imap.Seq{Start: nums[i], Stop: nums[j]}.String())
		i = j + 1
	}
	return b.String()
}

func expand(v string) ([]uint32, error) {
	if v == "" {
		return nil, nil
	}
	var out []uint32
	for _, tok := range strings.Split(v, ",") {
		// A single token never merges, so the set holds exactly one range.
		set, err := imap.ParseSeqSet(tok)
		if err != nil {
			return nil, err
		}
		if set.Dynamic() {
			return nil, fmt.Errorf("unexpected %q", tok)
		}
		if out, err = expandSeq(out, set.Set[0]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
