package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

// SQLiteStore is the default RecordStore for single-binary deployments.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for concurrent readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		is_locked BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS drawings (
		id TEXT PRIMARY KEY,
		scene_data TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertScene(ctx context.Context, roomID string, sc scene.Scene) error {
	data, err := scene.EncodeScene(sc)
	if err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (id) VALUES (?)", roomID,
	); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drawings (id, scene_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			scene_data = excluded.scene_data,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, string(data))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", roomID)
	return err
}

func (s *SQLiteStore) GetScene(ctx context.Context, roomID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, scene_data, updated_at FROM drawings WHERE id = ?", roomID)

	var (
		rec  Record
		data string
	)
	err := row.Scan(&rec.ID, &data, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.SceneData, err = scene.DecodeScene([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode scene for room %s: %w", roomID, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) SetRoomLocked(ctx context.Context, roomID string, locked bool) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (id) VALUES (?)", roomID,
	); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET is_locked = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		locked, roomID)
	return err
}

func (s *SQLiteStore) GetRoom(ctx context.Context, roomID string) (*RoomInfo, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, is_locked, created_at, updated_at FROM rooms WHERE id = ?", roomID)

	var info RoomInfo
	err := row.Scan(&info.ID, &info.IsLocked, &info.CreatedAt, &info.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *SQLiteStore) ListRooms(ctx context.Context, limit, offset int) ([]RoomInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, is_locked, created_at, updated_at FROM rooms ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []RoomInfo
	for rows.Next() {
		var info RoomInfo
		if err := rows.Scan(&info.ID, &info.IsLocked, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM drawings WHERE id = ?", roomID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", roomID)
	return err
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&st.RoomCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM drawings").Scan(&st.DrawingCount); err != nil {
		return st, err
	}
	return st, nil
}

var _ RecordStore = (*SQLiteStore)(nil)
