// Package postgres stores audit artifacts in a PostgreSQL table. Each record
// is written in one transaction, so a record is either fully visible or absent.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	soap "github.com/m29h/soapclient"
)

// Schema creates the artifact table. Rows are only ever inserted.
const Schema = `
CREATE TABLE IF NOT EXISTS soap_audit_artifacts (
	name       TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	content    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS soap_audit_artifacts_token_idx ON soap_audit_artifacts (token);
`

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = pq.ErrorCode("23505")

// Sink implements soap.Sink on a *sql.DB opened with the "postgres" driver.
type Sink struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a sink on db.
func New(db *sql.DB) *Sink {
	return &Sink{db: db, now: time.Now}
}

// Open connects with dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// EnsureSchema creates the artifact table if it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Open begins the transaction holding one record's artifacts.
func (s *Sink) Open(ctx context.Context, token string) (soap.SinkWriter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin audit transaction: %w", err)
	}
	return &writer{tx: tx, token: token, now: s.now}, nil
}

// Artifact returns the stored content of name.
func (s *Sink) Artifact(ctx context.Context, name string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM soap_audit_artifacts WHERE name = $1`, name).Scan(&content)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", name, err)
	}
	return content, nil
}

// Names lists the artifact names stored for token in insertion order.
func (s *Sink) Names(ctx context.Context, token string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM soap_audit_artifacts WHERE token = $1 ORDER BY created_at, name`, token)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan artifact name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

type writer struct {
	tx     *sql.Tx
	token  string
	now    func() time.Time
	failed bool
}

func (w *writer) Put(ctx context.Context, name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := w.tx.ExecContext(ctx,
		`INSERT INTO soap_audit_artifacts (name, token, content, created_at) VALUES ($1, $2, $3, $4)`,
		name, w.token, data, w.now())
	if err != nil {
		w.failed = true
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", soap.ErrArtifactExists, name)
		}
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// Close commits the record. After a failed insert the transaction is aborted
// on the server, so it is rolled back instead.
func (w *writer) Close() error {
	if w.failed {
		if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("rollback audit transaction: %w", err)
		}
		return nil
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit audit transaction: %w", err)
	}
	return nil
}
