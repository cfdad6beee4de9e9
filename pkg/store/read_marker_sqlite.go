package store

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/lifeline/pkg/chat"
)

//go:embed schema.sql
var readMarkerSchemaSQL string

// SQLiteReadMarkerStore persists read markers to a local SQLite file so unread
// counts survive a client restart within the same environment.
type SQLiteReadMarkerStore struct {
	db *sql.DB
}

var _ ReadMarkerStore = &SQLiteReadMarkerStore{}

func NewSQLiteReadMarkerStore(path string) (*SQLiteReadMarkerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite read marker store: path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create read marker directory")
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(readMarkerSchemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init read marker schema")
	}
	return &SQLiteReadMarkerStore{db: db}, nil
}

func (s *SQLiteReadMarkerStore) Put(ctx context.Context, marker chat.ReadMarker) error {
	marker.SessionID = strings.TrimSpace(marker.SessionID)
	if marker.SessionID == "" {
		return errors.New("sqlite read marker store: session id is empty")
	}
	if marker.LastSeenIndex < 0 {
		return errors.New("sqlite read marker store: negative last seen index")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO read_markers(session_id, last_seen_index, updated_at) VALUES(?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET last_seen_index=excluded.last_seen_index, updated_at=excluded.updated_at`,
		marker.SessionID, marker.LastSeenIndex, time.Now().Format(time.RFC3339Nano))
	return errors.Wrap(err, "upsert read marker")
}

func (s *SQLiteReadMarkerStore) Get(ctx context.Context, sessionID string) (chat.ReadMarker, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return chat.ReadMarker{}, false, errors.New("sqlite read marker store: session id is empty")
	}
	var idx int
	err := s.db.QueryRowContext(ctx,
		"SELECT last_seen_index FROM read_markers WHERE session_id=?", sessionID).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ReadMarker{}, false, nil
	}
	if err != nil {
		return chat.ReadMarker{}, false, errors.Wrap(err, "query read marker")
	}
	return chat.ReadMarker{SessionID: sessionID, LastSeenIndex: idx}, true, nil
}

func (s *SQLiteReadMarkerStore) Close() error { return s.db.Close() }
