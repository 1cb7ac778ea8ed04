// Package store keeps the sequence number to UID map of each mailbox between
// runs, so a session can skip the full UID fetch while UIDVALIDITY holds.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"imapsession/internal/mailbox"
	"imapsession/internal/uidmap"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Load when nothing usable is stored: either the
// mailbox was never saved or its UIDVALIDITY changed since.
var ErrNotFound = errors.New("browse state not found")

var createTableSQL = []string{
	// One row per account and mailbox.
	//
	// Field: uid_validity
	//
	//   UIDVALIDITY at the time the map was saved. A different value on
	//   the server means every stored UID is meaningless.
	//
	// Field: synced
	//
	//   1 when the map covered every message in the mailbox.
	//
	// Field: map
	//
	//   uidmap.Map in its serialized form.
	`
CREATE TABLE IF NOT EXISTS browse_state (
account TEXT NOT NULL,
mailbox TEXT NOT NULL,
uid_validity INTEGER NOT NULL,
synced INTEGER NOT NULL,
map BLOB NOT NULL,
updated_at INTEGER NOT NULL,
PRIMARY KEY (account, mailbox)
);`,
}

// Entry describes a stored mailbox.
type Entry struct {
	Account     string
	Mailbox     string
	UIDValidity uint32
	Synced      bool
	Messages    int
	UpdatedAt   time.Time
}

type DB struct {
	db  *sql.DB
	now func() time.Time
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func Open(ctx context.Context, path string) (*DB, error) {
	busyTimeout := int(30*time.Second) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err, "Open(%q) failed: could not form a DB DSN", path)
	}
	slog.Debug("opening state database", "dsn", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "Open(%q) failed: could not open database", path)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "Open(%q) failed: could not initialize the database schema", path)
	}
	return &DB{db: db, now: time.Now}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, q := range createTableSQL {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return errors.Wrapf(err, "while executing %q", q)
		}
	}
	return nil
}

// Save stores the map of st. UIDVALIDITY must be known, since a map saved
// without it could never be trusted again.
func (db *DB) Save(ctx context.Context, account string, st *mailbox.State) error {
	validity, ok := st.Status(mailbox.UIDValidity).Uint()
	if !ok {
		return fmt.Errorf("save %s: uidvalidity unknown", st.Name)
	}
	data, err := st.Map().Serialize()
	if err != nil {
		return errors.Wrap(err, "serialize map")
	}

	const q = `
INSERT INTO browse_state (account, mailbox, uid_validity, synced, map, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (account, mailbox)
DO UPDATE SET (uid_validity, synced, map, updated_at) = ($3, $4, $5, $6)`
	_, err = db.db.ExecContext(ctx, q, account, st.Name, int64(validity), st.Synced(), data, db.now().Unix())
	if err != nil {
		return errors.Wrapf(err, "db upsert failed for %s/%s", account, st.Name)
	}
	return nil
}

// Load returns the stored map and whether it was complete. A stored
// UIDVALIDITY different from uidValidity yields ErrNotFound.
func (db *DB) Load(ctx context.Context, account, name string, uidValidity uint32) (*uidmap.Map, bool, error) {
	const q = `
SELECT uid_validity, synced, map FROM browse_state
WHERE account = $1 AND mailbox = $2`
	var validity int64
	var synced bool
	var data []byte
	err := db.db.QueryRowContext(ctx, q, account, name).Scan(&validity, &synced, &data)
	if err == sql.ErrNoRows {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "db query failed for %s/%s", account, name)
	}
	if uint32(validity) != uidValidity {
		return nil, false, errors.Wrapf(ErrNotFound, "uidvalidity changed from %d to %d", validity, uidValidity)
	}
	m, err := uidmap.Deserialize(data)
	if err != nil {
		return nil, false, errors.Wrapf(err, "corrupt map for %s/%s", account, name)
	}
	return m, synced, nil
}

// Restore loads the stored map into st, which must hold the UIDVALIDITY
// reported by the server. It reports whether anything was restored.
func (db *DB) Restore(ctx context.Context, account string, st *mailbox.State) (bool, error) {
	validity, ok := st.Status(mailbox.UIDValidity).Uint()
	if !ok {
		return false, nil
	}
	m, synced, err := db.Load(ctx, account, st.Name, uint32(validity))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	st.Reset()
	st.Map().Update(pairsOf(m))
	if synced {
		st.MarkSynced()
	}
	return true, nil
}

func pairsOf(m *uidmap.Map) map[uint32]uint32 {
	out := make(map[uint32]uint32, m.Len())
	for _, p := range m.Pairs() {
		out[p.Seq] = p.UID
	}
	return out
}

func (db *DB) Delete(ctx context.Context, account, name string) error {
	const q = `DELETE FROM browse_state WHERE account = $1 AND mailbox = $2`
	if _, err := db.db.ExecContext(ctx, q, account, name); err != nil {
		return errors.Wrapf(err, "db delete failed for %s/%s", account, name)
	}
	return nil
}

// List returns every stored mailbox of account ordered by name.
func (db *DB) List(ctx context.Context, account string) ([]Entry, error) {
	const q = `
SELECT mailbox, uid_validity, synced, map, updated_at FROM browse_state
WHERE account = $1 ORDER BY mailbox`
	rows, err := db.db.QueryContext(ctx, q, account)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in List")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var validity, updated int64
		var data []byte
		if err := rows.Scan(&e.Mailbox, &validity, &e.Synced, &data, &updated); err != nil {
			return nil, errors.Wrap(err, "db scan failed in List")
		}
		m, err := uidmap.Deserialize(data)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt map for %s/%s", account, e.Mailbox)
		}
		e.Account = account
		e.UIDValidity = uint32(validity)
		e.Messages = m.Len()
		e.UpdatedAt = time.Unix(updated, 0)
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "db iteration failed in List")
}
