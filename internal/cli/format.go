package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"imapsession/internal/mailbox"
	"imapsession/internal/store"
	"imapsession/internal/uidmap"
)

// statusReplyKeys are the fields a STATUS response can carry. The rest are
// only known, or inferable, for a selected mailbox.
var statusReplyKeys = []mailbox.StatusKey{
	mailbox.Messages, mailbox.Recent, mailbox.RecentTotal, mailbox.Unseen,
	mailbox.UIDNext, mailbox.UIDValidity, mailbox.HighestModSeq,
}

// printStatus lists the known fields of st among keys, or among all status
// fields when keys is empty.
func printStatus(out io.Writer, st *mailbox.State, keys ...mailbox.StatusKey) {
	if len(keys) == 0 {
		keys = mailbox.StatusKeys
	}
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "MAILBOX\t%s\n", st.Name)
	for _, key := range keys {
		v := st.Status(key)
		if v.IsUnknown() {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", key, v)
	}
	_ = tw.Flush()
}

func printPairs(out io.Writer, pairs []uidmap.Pair) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tUID")
	for _, p := range pairs {
		fmt.Fprintf(tw, "%d\t%d\n", p.Seq, p.UID)
	}
	_ = tw.Flush()
}

// sortedPairs orders a Lookup result by sequence number.
func sortedPairs(m map[uint32]uint32) []uidmap.Pair {
	pairs := make([]uidmap.Pair, 0, len(m))
	for seq, uid := range m {
		pairs = append(pairs, uidmap.Pair{Seq: seq, UID: uid})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Seq < pairs[j].Seq })
	return pairs
}

func printEntries(out io.Writer, entries []store.Entry) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "MAILBOX\tUIDVALIDITY\tMESSAGES\tSYNCED\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%s\n", e.Mailbox, e.UIDValidity, e.Messages, e.Synced, e.UpdatedAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}
