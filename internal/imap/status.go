package imap

import (
	"imapsession/internal/mailbox"

	"github.com/emersion/go-imap"
)

var statusItems = map[imap.StatusItem]mailbox.StatusKey{
	imap.StatusMessages:    mailbox.Messages,
	imap.StatusRecent:      mailbox.Recent,
	imap.StatusUidNext:     mailbox.UIDNext,
	imap.StatusUidValidity: mailbox.UIDValidity,
	imap.StatusUnseen:      mailbox.Unseen,
}

// applyStatus copies the fields the server actually sent. Anything missing
// stays unknown so mailbox.State can infer it.
func applyStatus(st *mailbox.State, status *imap.MailboxStatus) {
	if status == nil {
		return
	}

	status.ItemsLocker.Lock()
	present := make([]imap.StatusItem, 0, len(status.Items))
	for item := range status.Items {
		present = append(present, item)
	}
	status.ItemsLocker.Unlock()

	for _, item := range present {
		key, ok := statusItems[item]
		if !ok {
			continue
		}
		var n uint32
		switch item {
		case imap.StatusMessages:
			n = status.Messages
		case imap.StatusRecent:
			n = status.Recent
		case imap.StatusUidNext:
			n = status.UidNext
		case imap.StatusUidValidity:
			n = status.UidValidity
		case imap.StatusUnseen:
			n = status.Unseen
		}
		st.NotifyStatus(key, mailbox.Number(uint64(n)))
	}

	if status.Flags != nil {
		st.NotifyStatus(mailbox.Flags, mailbox.FlagList(status.Flags...))
	}
	if status.PermanentFlags != nil {
		st.NotifyStatus(mailbox.PermFlags, mailbox.FlagList(status.PermanentFlags...))
	}
	if status.UnseenSeqNum > 0 {
		st.NotifyStatus(mailbox.FirstUnseen, mailbox.Number(uint64(status.UnseenSeqNum)))
	}
}
