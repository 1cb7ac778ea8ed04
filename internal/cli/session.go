package cli

import (
	"context"
	"log/slog"

	"imapsession/internal/config"
	"imapsession/internal/debug"
	"imapsession/internal/imap"
	"imapsession/internal/mailbox"
	"imapsession/internal/store"
)

// imapService opens IMAP sessions. Tests replace its connector.
var imapService = imap.NewService()

// openDebug opens the protocol trace named in the config, or returns a nil
// stream when tracing is off.
func openDebug(cfg config.Config, label string) (*debug.Stream, error) {
	if cfg.Debug.Path == "" {
		return nil, nil
	}
	slow, err := cfg.SlowCommand()
	if err != nil {
		return nil, err
	}
	return debug.Open(cfg.Debug.Path, debug.WithLabel(label), debug.WithSlowThreshold(slow))
}

func openSession(ctx context.Context, cfg config.Config) (*imap.Session, error) {
	if err := config.ValidateIMAP(cfg); err != nil {
		return nil, err
	}
	dbg, err := openDebug(cfg, "IMAP")
	if err != nil {
		return nil, err
	}
	p, err := cfg.Params(config.IMAP, dbg)
	if err != nil {
		_ = dbg.Shutdown()
		return nil, err
	}

	slog.Debug("connecting", "addr", p.Addr(), "secure", p.Secure.String())
	sess, err := imapService.Open(ctx, p, cfg.Auth.Username, cfg.Auth.Password)
	if err != nil {
		_ = dbg.Shutdown()
		return nil, err
	}
	slog.Debug("logged in", "user", cfg.Auth.Username, "tls", sess.Secure())
	return sess, nil
}

func openStore(ctx context.Context, cfg config.Config) (*store.DB, error) {
	path, err := cfg.StatePath()
	if err != nil {
		return nil, err
	}
	if _, err := config.EnsureStateDir(path); err != nil {
		return nil, err
	}
	return store.Open(ctx, path)
}

type browseSource string

const (
	sourceRestored browseSource = "restored"
	sourceFetched  browseSource = "fetched"
)

// browse selects name and makes sure its map covers every message, reusing
// the stored map when UIDVALIDITY and the message count still match. The
// resulting map is saved back.
func browse(ctx context.Context, sess *imap.Session, db *store.DB, account, name string, readOnly, force bool) (*mailbox.State, browseSource, error) {
	st, err := sess.Select(ctx, name, readOnly)
	if err != nil {
		return nil, "", err
	}

	source := sourceFetched
	if !force {
		ok, err := db.Restore(ctx, account, st)
		if err != nil {
			return nil, "", err
		}
		messages, _ := st.Status(mailbox.Messages).Uint()
		if ok && st.Synced() && uint64(st.Map().Len()) == messages {
			source = sourceRestored
		}
	}
	if source == sourceFetched {
		if err := sess.SyncUIDs(ctx); err != nil {
			return nil, "", err
		}
	}
	slog.Debug("mailbox ready", "mailbox", name, "source", string(source), "mapped", st.Map().Len())

	if err := saveState(ctx, db, account, st); err != nil {
		return nil, "", err
	}
	return st, source, nil
}

func saveState(ctx context.Context, db *store.DB, account string, st *mailbox.State) error {
	if st.Status(mailbox.UIDValidity).IsUnknown() {
		slog.Warn("server sent no UIDVALIDITY, map not saved", "mailbox", st.Name)
		return nil
	}
	return db.Save(ctx, account, st)
}
