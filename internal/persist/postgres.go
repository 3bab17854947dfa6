package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdraw-app/vdraw/backend/internal/scene"
)

// PostgresStore is the RecordStore for shared deployments where several relay
// instances (or peers) write to one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		is_locked BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS drawings (
		id TEXT PRIMARY KEY,
		scene_data JSONB NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT now()
	);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertScene(ctx context.Context, roomID string, sc scene.Scene) error {
	data, err := scene.EncodeScene(sc)
	if err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		"INSERT INTO rooms (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", roomID,
	); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO drawings (id, scene_data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			scene_data = excluded.scene_data,
			updated_at = now()
	`, roomID, data); err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, "UPDATE rooms SET updated_at = now() WHERE id = $1", roomID)
	return err
}

func (s *PostgresStore) GetScene(ctx context.Context, roomID string) (*Record, error) {
	var (
		rec  Record
		data []byte
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, scene_data, updated_at FROM drawings WHERE id = $1", roomID,
	).Scan(&rec.ID, &data, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.SceneData, err = scene.DecodeScene(data)
	if err != nil {
		return nil, fmt.Errorf("decode scene for room %s: %w", roomID, err)
	}
	return &rec, nil
}

func (s *PostgresStore) SetRoomLocked(ctx context.Context, roomID string, locked bool) error {
	if _, err := s.pool.Exec(ctx,
		"INSERT INTO rooms (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", roomID,
	); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		"UPDATE rooms SET is_locked = $1, updated_at = now() WHERE id = $2",
		locked, roomID)
	return err
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (*RoomInfo, error) {
	var info RoomInfo
	err := s.pool.QueryRow(ctx,
		"SELECT id, is_locked, created_at, updated_at FROM rooms WHERE id = $1", roomID,
	).Scan(&info.ID, &info.IsLocked, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context, limit, offset int) ([]RoomInfo, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, is_locked, created_at, updated_at FROM rooms ORDER BY updated_at DESC LIMIT $1 OFFSET $2",
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

func (s *PostgresStore) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM drawings WHERE id = $1", roomID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, "DELETE FROM rooms WHERE id = $1", roomID)
	return err
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM rooms").Scan(&st.RoomCount); err != nil {
		return st, err
	}
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM drawings").Scan(&st.DrawingCount); err != nil {
		return st, err
	}
	return st, nil
}

var _ RecordStore = (*PostgresStore)(nil)
