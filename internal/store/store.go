// Package store persists contacts and enrichment proposals in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
	"github.com/GriffinCanCode/voicenote/internal/proposal"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id);

CREATE TABLE IF NOT EXISTS proposals (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	transcript TEXT NOT NULL,
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS proposal_items (
	proposal_id TEXT NOT NULL REFERENCES proposals(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	id TEXT NOT NULL,
	contact_id TEXT NOT NULL DEFAULT '',
	contact_name TEXT NOT NULL DEFAULT '',
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	confidence REAL NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (proposal_id, seq)
);
`

// Store is a SQLite-backed contacts directory and proposal sink.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "open database")
	}
	// One connection keeps in-memory databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "ping database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "apply schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertContact inserts c or replaces the stored row with the same id.
func (s *Store) UpsertContact(ctx context.Context, c contacts.Contact) error {
	if c.ID == "" || c.UserID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "contact id and user id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, user_id, first_name, last_name, display_name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			display_name = excluded.display_name
	`, c.ID, c.UserID, c.FirstName, c.LastName, c.DisplayName)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreFailed, "upsert contact")
	}
	return nil
}

// ListContacts returns userID's contacts ordered by id.
func (s *Store) ListContacts(ctx context.Context, userID string) ([]contacts.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, first_name, last_name, display_name
		FROM contacts
		WHERE user_id = ?
		ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "query contacts")
	}
	defer rows.Close()

	var out []contacts.Contact
	for rows.Next() {
		var c contacts.Contact
		if err := rows.Scan(&c.ID, &c.UserID, &c.FirstName, &c.LastName, &c.DisplayName); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "scan contact")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "iterate contacts")
	}
	return out, nil
}

// SaveProposal writes p and its items in one transaction.
func (s *Store) SaveProposal(ctx context.Context, p *proposal.Proposal) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreFailed, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO proposals (id, session_id, user_id, transcript, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.SessionID, p.UserID, p.Transcript, unixFromTime(p.CreatedAt)); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreFailed, "insert proposal")
	}

	for i, it := range p.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO proposal_items (proposal_id, seq, id, contact_id, contact_name, field, value, confidence, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, i, it.ID, it.ContactID, it.ContactName, it.Field, it.Value, it.Confidence, it.Source); err != nil {
			return apperrors.Wrap(err, apperrors.CodeStoreFailed, "insert proposal item")
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreFailed, "commit proposal")
	}
	return nil
}

// GetProposal loads a proposal with its items in their original order.
func (s *Store) GetProposal(ctx context.Context, id string) (*proposal.Proposal, error) {
	var p proposal.Proposal
	var createdAt float64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, user_id, transcript, created_at
		FROM proposals
		WHERE id = ?
	`, id).Scan(&p.ID, &p.SessionID, &p.UserID, &p.Transcript, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "proposal %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "scan proposal")
	}
	p.CreatedAt = timeFromUnix(createdAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_id, contact_name, field, value, confidence, source
		FROM proposal_items
		WHERE proposal_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "query proposal items")
	}
	defer rows.Close()

	p.Items = []proposal.Item{}
	for rows.Next() {
		var it proposal.Item
		if err := rows.Scan(&it.ID, &it.ContactID, &it.ContactName, &it.Field, &it.Value, &it.Confidence, &it.Source); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "scan proposal item")
		}
		p.Items = append(p.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailed, "iterate proposal items")
	}
	return &p, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
