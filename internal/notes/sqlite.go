package notes

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps notes in a local SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	return OpenSQLiteFs(ctx, afero.NewOsFs(), path)
}

// OpenSQLiteFs is OpenSQLite with the data directory created through fs.
func OpenSQLiteFs(ctx context.Context, fs afero.Fs, path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := fs.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    text TEXT NOT NULL,
    source TEXT NOT NULL CHECK (source IN ('text', 'voice', 'photo')),
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_device_created ON notes(device_id, created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init notes schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a note with a fresh id.
func (s *SQLiteStore) Create(ctx context.Context, req CreateRequest) (Note, error) {
	req, err := Normalize(req)
	if err != nil {
		return Note{}, err
	}

	now := s.clock().UTC().Truncate(time.Millisecond)
	note := Note{
		ID:        uuid.NewString(),
		DeviceID:  req.DeviceID,
		Text:      req.Text,
		Source:    req.Source,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notes (id, device_id, text, source, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		note.ID, note.DeviceID, note.Text, string(note.Source), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return note, nil
}

// List returns deviceID's notes, newest first.
func (s *SQLiteStore) List(ctx context.Context, deviceID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, text, source, created_at, updated_at FROM notes WHERE device_id = ? ORDER BY created_at DESC, id`,
		strings.TrimSpace(deviceID),
	)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Note, 0)
	for rows.Next() {
		var (
			note             Note
			source           string
			created, updated int64
		)
		if err := rows.Scan(&note.ID, &note.DeviceID, &note.Text, &source, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		note.Source = Source(source)
		note.CreatedAt = time.UnixMilli(created).UTC()
		note.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, note)
	}
	return out, rows.Err()
}

// Delete removes one note; a missing id is ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
