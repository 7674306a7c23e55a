package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers "sqlite" with database/sql

	"github.com/dim-network/station/internal/message"
)

// schema creates the durable tables backing §6's persisted-state layout.
// The spec describes that layout as semantic/path-shaped, not literal
// on-disk files, so each described path becomes a logical table/partition
// here instead of a ".js" file.
const schema = `
CREATE TABLE IF NOT EXISTS offline_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	receiver   TEXT NOT NULL,
	signature  BLOB NOT NULL,
	payload    TEXT NOT NULL,
	UNIQUE(receiver, signature)
);
CREATE INDEX IF NOT EXISTS idx_offline_receiver ON offline_messages(receiver, id);

CREATE TABLE IF NOT EXISTS logins (
	user     TEXT PRIMARY KEY,
	station  TEXT NOT NULL,
	time     INTEGER NOT NULL,
	envelope TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id       TEXT NOT NULL,
	doc_type TEXT NOT NULL,
	data     BLOB NOT NULL,
	time     INTEGER NOT NULL,
	PRIMARY KEY (id, doc_type)
);

CREATE TABLE IF NOT EXISTS ans_registry (
	name TEXT PRIMARY KEY,
	id   TEXT NOT NULL
);
`

// SQLiteStore is a modernc.org/sqlite-backed implementation of
// MessageStore, LoginStore and AccountStore, giving the station durable
// offline-store and login-state persistence across restarts (§4.9, §6).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) a sqlite database at path and
// applies the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save implements MessageStore.
func (s *SQLiteStore) Save(ctx context.Context, receiver string, msg *message.ReliableMessage) (bool, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("marshal message for store: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO offline_messages (receiver, signature, payload) VALUES (?, ?, ?)`,
		receiver, []byte(msg.SignatureKey()), string(payload))
	if err != nil {
		return false, fmt.Errorf("save offline message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		// Keep at most DefaultCapacity messages per receiver, dropping the oldest.
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM offline_messages WHERE receiver = ? AND id NOT IN (
				SELECT id FROM offline_messages WHERE receiver = ? ORDER BY id DESC LIMIT ?)`,
			receiver, receiver, DefaultCapacity); err != nil {
			return false, fmt.Errorf("trim offline messages: %w", err)
		}
	}
	return n > 0, nil
}

// Remove implements MessageStore.
func (s *SQLiteStore) Remove(ctx context.Context, receiver, signatureKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM offline_messages WHERE receiver = ? AND signature = ?`,
		receiver, []byte(signatureKey))
	if err != nil {
		return fmt.Errorf("remove offline message: %w", err)
	}
	return nil
}

// Fetch implements MessageStore.
func (s *SQLiteStore) Fetch(ctx context.Context, receiver string, start, limit int) ([]*message.ReliableMessage, int, error) {
	total, err := s.Count(ctx, receiver)
	if err != nil {
		return nil, 0, err
	}
	begin := start
	if begin < 0 {
		begin = total + begin
		if begin < 0 {
			begin = 0
		}
	}
	if begin >= total {
		return nil, 0, nil
	}
	if limit <= 0 {
		limit = total - begin
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM offline_messages WHERE receiver = ? ORDER BY id ASC LIMIT ? OFFSET ?`,
		receiver, limit, begin)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch offline messages: %w", err)
	}
	defer rows.Close()

	var out []*message.ReliableMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, fmt.Errorf("scan offline message: %w", err)
		}
		var m message.ReliableMessage
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, 0, fmt.Errorf("unmarshal offline message: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate offline messages: %w", err)
	}

	remaining := total - (begin + len(out))
	if remaining < 0 {
		remaining = 0
	}
	return out, remaining, nil
}

// Count implements MessageStore.
func (s *SQLiteStore) Count(ctx context.Context, receiver string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offline_messages WHERE receiver = ?`, receiver).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count offline messages: %w", err)
	}
	return n, nil
}

// SaveLogin implements LoginStore.
func (s *SQLiteStore) SaveLogin(ctx context.Context, snap message.LoginSnapshot) error {
	envelope, err := json.Marshal(snap.Envelope)
	if err != nil {
		return fmt.Errorf("marshal login envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO logins (user, station, time, envelope) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user) DO UPDATE SET station=excluded.station, time=excluded.time, envelope=excluded.envelope`,
		snap.Command.User, snap.Command.Station, snap.Command.Time, string(envelope))
	if err != nil {
		return fmt.Errorf("save login: %w", err)
	}
	return nil
}

// Login implements LoginStore.
func (s *SQLiteStore) Login(ctx context.Context, user string) (message.LoginSnapshot, bool, error) {
	var station string
	var t int64
	var envelope string
	err := s.db.QueryRowContext(ctx,
		`SELECT station, time, envelope FROM logins WHERE user = ?`, user).
		Scan(&station, &t, &envelope)
	if err == sql.ErrNoRows {
		return message.LoginSnapshot{}, false, nil
	}
	if err != nil {
		return message.LoginSnapshot{}, false, fmt.Errorf("load login: %w", err)
	}
	var env message.ReliableMessage
	if err := json.Unmarshal([]byte(envelope), &env); err != nil {
		return message.LoginSnapshot{}, false, fmt.Errorf("unmarshal login envelope: %w", err)
	}
	return message.LoginSnapshot{
		Command:  message.LoginCommand{User: user, Station: station, Time: t},
		Envelope: &env,
	}, true, nil
}

// Document implements AccountStore.
func (s *SQLiteStore) Document(ctx context.Context, id, docType string) (Document, bool, error) {
	var data []byte
	var t int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data, time FROM documents WHERE id = ? AND doc_type = ?`, id, docType).
		Scan(&data, &t)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("load document: %w", err)
	}
	return Document{ID: id, Type: docType, Data: data, Time: t}, true, nil
}

// PutDocument implements AccountStore.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, doc_type, data, time) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id, doc_type) DO UPDATE SET data=excluded.data, time=excluded.time`,
		doc.ID, doc.Type, doc.Data, doc.Time)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// SeedANS inserts a config-declared ANS name/ID pair if the name is not
// already registered, used at boot to reconcile the persisted ans_registry
// table with the station.conf ans{} section (§6).
func (s *SQLiteStore) SeedANS(ctx context.Context, name, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ans_registry (name, id) VALUES (?, ?)`, name, id)
	if err != nil {
		return fmt.Errorf("seed ans registry entry %s: %w", name, err)
	}
	return nil
}

// ResolveANS implements AccountStore.
func (s *SQLiteStore) ResolveANS(ctx context.Context, name string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM ans_registry WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve ans: %w", err)
	}
	return id, true, nil
}
