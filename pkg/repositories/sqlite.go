package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path and
// applies every migration in the migrations directory in name order.
func NewSQLiteRepository(ctx context.Context, path string, migrations string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	dir, err := os.ReadDir(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", migrationPath, err)
		}

		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %w", migrationPath, err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveChatMessage(ctx context.Context, rec ChatRecord) error {
	q := `
	INSERT INTO chat_messages (room_id, player_id, display_name, message, created_at)
	VALUES (?, ?, ?, ?, ?);
	`
	if _, err := r.db.ExecContext(ctx, q, rec.RoomID, rec.PlayerID, rec.DisplayName, rec.Message, rec.Timestamp); err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveSessionEvent(ctx context.Context, rec SessionRecord) error {
	q := `
	INSERT INTO session_events (room_id, player_id, event, created_at)
	VALUES (?, ?, ?, ?);
	`
	if _, err := r.db.ExecContext(ctx, q, rec.RoomID, rec.PlayerID, rec.Event, rec.Timestamp); err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRecentChat(ctx context.Context, roomID string, limit int) ([]ChatRecord, error) {
	q := `
	SELECT room_id, player_id, display_name, message, created_at
	FROM chat_messages
	WHERE room_id = ?
	ORDER BY created_at DESC
	LIMIT ?;
	`
	rows, err := r.db.QueryContext(ctx, q, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	var records []ChatRecord
	for rows.Next() {
		var rec ChatRecord
		if err := rows.Scan(&rec.RoomID, &rec.PlayerID, &rec.DisplayName, &rec.Message, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat messages: %w", err)
	}

	return records, nil
}
