package rpc

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// ErrIdempotencyMismatch is returned when a key is reused with a different
// payload.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// Store persists idempotency keys and the request audit trail for the
// gateway. Replayed mutations return the cached response instead of touching
// the ledger twice.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the gateway database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            subject TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY(subject, idempotency_key)
        );`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            subject TEXT,
            request_id TEXT,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            response_status INTEGER
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// StoredResponse is a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

// LookupIdempotency returns the cached response for the key, nil when the key
// is new, or ErrIdempotencyMismatch when the key was used with a different
// request body.
func (s *Store) LookupIdempotency(ctx context.Context, subject, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE subject = ? AND idempotency_key = ?`
	row := s.db.QueryRowContext(ctx, query, subject, key)
	var status int
	var body []byte
	var storedHash string
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

// SaveIdempotency caches the response produced for the key.
func (s *Store) SaveIdempotency(ctx context.Context, subject, key, requestHash string, status int, body []byte) error {
	const stmt = `INSERT OR REPLACE INTO idempotency_keys(subject, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, subject, key, requestHash, status, body, time.Now().UTC())
	return err
}

// AuditEntry is one gateway request record.
type AuditEntry struct {
	Subject   string
	RequestID string
	Method    string
	Path      string
	Status    int
	Timestamp time.Time
}

// InsertAudit appends the entry to the audit log.
func (s *Store) InsertAudit(ctx context.Context, entry AuditEntry) error {
	const stmt = `INSERT INTO audit_log(subject, request_id, method, path, response_status, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, entry.Subject, entry.RequestID, entry.Method, entry.Path, entry.Status, entry.Timestamp)
	return err
}
