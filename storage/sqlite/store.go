// Package sqlite stores documents in a SQLite database. The document body
// is kept as CBOR; audit entries live in their own append-only table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/digitorus/signflow"
	"github.com/digitorus/signflow/audit"
	"github.com/digitorus/signflow/storage/sqlite/migrations"
)

var _ signflow.Store = (*Store)(nil)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Sort: cbor.SortCanonical, Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Store is a SQLite backed signflow.Store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path and runs the
// pending migrations.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY
	// between our own transactions.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations, each in its own transaction.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

func encode(doc *signflow.Document) ([]byte, error) {
	body := *doc
	body.AuditTrail = nil
	body.Version = 0
	return encMode.Marshal(&body)
}

func expiresAt(doc *signflow.Document) any {
	if doc.ExpiresAt.IsZero() {
		return nil
	}
	return doc.ExpiresAt.UnixNano()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Create stores a new document.
func (s *Store) Create(ctx context.Context, doc *signflow.Document) error {
	if err := doc.AuditTrail.Verify(); err != nil {
		return err
	}
	body, err := encode(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, owner_id, status, expires_at, version, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		doc.ID, doc.TenantID, doc.OwnerID, string(doc.Status), expiresAt(doc), body,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}
	if err := insertEntries(ctx, tx, doc.ID, doc.AuditTrail); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	doc.Version = 1
	return nil
}

// Load returns the document with its audit trail.
func (s *Store) Load(ctx context.Context, id string) (*signflow.Document, error) {
	var (
		body    []byte
		version uint64
	)
	err := s.db.QueryRowContext(ctx, "SELECT body, version FROM documents WHERE id = ?", id).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, signflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}

	var doc signflow.Document
	if err := decMode.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	doc.Version = version

	trail, err := loadEntries(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	doc.AuditTrail = trail
	return &doc, nil
}

// Save updates the document and appends its new audit entries.
func (s *Store) Save(ctx context.Context, doc *signflow.Document) error {
	if err := doc.AuditTrail.Verify(); err != nil {
		return err
	}
	body, err := encode(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET tenant_id = ?, owner_id = ?, status = ?, expires_at = ?, version = version + 1, body = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		doc.TenantID, doc.OwnerID, string(doc.Status), expiresAt(doc), body, formatTime(doc.UpdatedAt),
		doc.ID, doc.Version)
	if err != nil {
		return fmt.Errorf("updating document %s: %w", doc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE id = ?", doc.ID).Scan(&exists)
		switch {
		case err != nil:
			return err
		case exists == 0:
			return fmt.Errorf("document %s: %w", doc.ID, signflow.ErrNotFound)
		default:
			return fmt.Errorf("document %s version %d: %w", doc.ID, doc.Version, signflow.ErrConflict)
		}
	}

	stored, err := loadEntries(ctx, tx, doc.ID)
	if err != nil {
		return err
	}
	if !doc.AuditTrail.Extends(stored) {
		return fmt.Errorf("document %s: audit trail does not extend the stored trail", doc.ID)
	}
	if err := insertEntries(ctx, tx, doc.ID, doc.AuditTrail[len(stored):]); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	doc.Version++
	return nil
}

// ListExpirable returns the ids of non-terminal documents that expired
// before now.
func (s *Store) ListExpirable(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents
		WHERE status NOT IN (?, ?, ?) AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY id`,
		string(signflow.Completed), string(signflow.Declined), string(signflow.Expired), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("listing expirable documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadEntries(ctx context.Context, q querier, id string) (audit.Trail, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, activity, actor_id, ip_address, artifact, timestamp
		FROM audit_entries WHERE document_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading audit trail of %s: %w", id, err)
	}
	defer rows.Close()

	var trail audit.Trail
	for rows.Next() {
		var (
			e        audit.Entry
			activity string
			ts       string
		)
		if err := rows.Scan(&e.Seq, &activity, &e.ActorID, &e.IPAddress, &e.Artifact, &ts); err != nil {
			return nil, err
		}
		e.Activity = audit.Activity(activity)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("audit entry %d of %s: %w", e.Seq, id, err)
		}
		trail = append(trail, e)
	}
	return trail, rows.Err()
}

func insertEntries(ctx context.Context, tx *sql.Tx, id string, entries []audit.Entry) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_entries (document_id, seq, activity, actor_id, ip_address, artifact, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, e.Seq, string(e.Activity), e.ActorID, e.IPAddress, e.Artifact, formatTime(e.Timestamp))
		if err != nil {
			return fmt.Errorf("appending audit entry %d of %s: %w", e.Seq, id, err)
		}
	}
	return nil
}
