package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	_ "modernc.org/sqlite"

	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

const sqliteDriverName = "sqlite"

const schemaConfigEntries = `
CREATE TABLE IF NOT EXISTS config_entries (
    id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    title TEXT NOT NULL,
    unique_id TEXT,
    auth_impl TEXT,
    encrypted_token BLOB,
    state TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaConfigEntriesDomainIndex = `
CREATE INDEX IF NOT EXISTS config_entries_domain ON config_entries (domain);
`

const (
	upsertEntrySQL = `
		INSERT INTO config_entries (id, domain, title, unique_id, auth_impl, encrypted_token, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			domain=excluded.domain,
			title=excluded.title,
			unique_id=excluded.unique_id,
			auth_impl=excluded.auth_impl,
			encrypted_token=excluded.encrypted_token,
			state=excluded.state,
			updated_at=excluded.updated_at
	`

	selectEntrySQL = `
		SELECT id, domain, title, unique_id, auth_impl, encrypted_token, state, created_at, updated_at
		FROM config_entries WHERE id=?
	`

	listEntriesSQL = `
		SELECT id, domain, title, unique_id, auth_impl, encrypted_token, state, created_at, updated_at
		FROM config_entries WHERE domain=? ORDER BY created_at, id
	`

	deleteEntrySQL = `DELETE FROM config_entries WHERE id=?`
)

// SQLiteProvider implements Database on a local SQLite file for
// installations that don't run on Google Cloud.
type SQLiteProvider struct {
	path string
	db   *sql.DB
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "kiwiwatt.db", "Path to the SQLite database file")

	s := &SQLiteProvider{}
	lflag.Do(func() {
		s.path = *path
	})
	return s
}

// NewSQLite returns a provider for the file at path. Init must be called
// before use.
func NewSQLite(path string) *SQLiteProvider {
	return &SQLiteProvider{path: path}
}

// NewSQLiteWithDB wraps an already opened database. The schema is not
// applied.
func NewSQLiteWithDB(db *sql.DB) *SQLiteProvider {
	return &SQLiteProvider{db: db}
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return errors.New("sqlite-path is required")
	}
	return nil
}

// Init opens (or creates) the database file and ensures the schema exists.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := sql.Open(sqliteDriverName, s.path)
	if err != nil {
		return fmt.Errorf("open sqlite at %q: %w", s.path, err)
	}

	// sqlite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}
	s.db = db
	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaConfigEntries,
		schemaConfigEntriesDomainIndex,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (types.ConfigEntry, error) {
	var (
		e        types.ConfigEntry
		uniqueID sql.NullString
		authImpl sql.NullString
		state    sql.NullString
	)
	err := row.Scan(
		&e.ID,
		&e.Domain,
		&e.Title,
		&uniqueID,
		&authImpl,
		&e.EncryptedToken,
		&state,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return types.ConfigEntry{}, err
	}
	e.UniqueID = uniqueID.String
	e.AuthImpl = authImpl.String
	e.State = types.EntryState(state.String)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

// GetEntry loads a single entry.
func (s *SQLiteProvider) GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, error) {
	if entryID == "" {
		return types.ConfigEntry{}, fmt.Errorf("entryID cannot be empty")
	}
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectEntrySQL, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ConfigEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return types.ConfigEntry{}, fmt.Errorf("failed to get entry %s: %w", entryID, err)
	}
	return e, nil
}

// ListEntries returns every entry belonging to domain, oldest first.
func (s *SQLiteProvider) ListEntries(ctx context.Context, domain string) ([]types.ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx, listEntriesSQL, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []types.ConfigEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

// PutEntry inserts or replaces an entry. CreatedAt is kept from the first
// insert.
func (s *SQLiteProvider) PutEntry(ctx context.Context, entry types.ConfigEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("entryID cannot be empty")
	}
	_, err := s.db.ExecContext(ctx, upsertEntrySQL,
		entry.ID,
		entry.Domain,
		entry.Title,
		entry.UniqueID,
		entry.AuthImpl,
		entry.EncryptedToken,
		string(entry.State),
		entry.CreatedAt.UTC(),
		entry.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save entry %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteEntry removes an entry.
func (s *SQLiteProvider) DeleteEntry(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx, deleteEntrySQL, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", entryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", entryID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return nil
}
