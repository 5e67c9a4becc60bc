package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/matchbox-io/matchbox/pkg/game"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id   TEXT PRIMARY KEY,
	game_name TEXT NOT NULL,
	state     TEXT,
	metadata  TEXT
);
CREATE INDEX IF NOT EXISTS rooms_game_name ON rooms (game_name);
`

// SQLite persists rooms in a single-file database. The pool is pinned to one
// connection; WAL keeps readers from blocking the writer.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) CreateGame(ctx context.Context, roomID string, state game.State, metadata Metadata) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO rooms (room_id, game_name, state, metadata) VALUES (?, ?, ?, ?)`,
		roomID, metadata.GameName, string(stateJSON), string(metaJSON))
	return err
}

func (s *SQLite) FetchState(ctx context.Context, roomID string) (game.State, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT state FROM rooms WHERE room_id = ?`, roomID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return game.State{}, ErrNotFound
	}
	if err != nil {
		return game.State{}, err
	}
	if !raw.Valid {
		return game.State{}, ErrNotFound
	}
	var st game.State
	if err := json.Unmarshal([]byte(raw.String), &st); err != nil {
		return game.State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func (s *SQLite) WriteState(ctx context.Context, roomID string, state game.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET state = ? WHERE room_id = ?`, string(stateJSON), roomID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) FetchMetadata(ctx context.Context, roomID string) (Metadata, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM rooms WHERE room_id = ?`, roomID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, err
	}
	if !raw.Valid {
		return Metadata{}, ErrNotFound
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (s *SQLite) WriteMetadata(ctx context.Context, roomID string, metadata Metadata) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET metadata = ?, game_name = ? WHERE room_id = ?`,
		string(metaJSON), metadata.GameName, roomID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListRooms(ctx context.Context, gameName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id FROM rooms WHERE game_name = ? ORDER BY room_id`, gameName)
	if err != nil {
		return nil, err
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

func (s *SQLite) Wipe(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE room_id = ?`, roomID)
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }
