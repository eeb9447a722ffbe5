package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository connects to the database and verifies the
// connection. The caller is responsible for calling Close.
func NewPostgresRepository(ctx context.Context, connStr string) (*PostgresRepository, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var database string
	if err := conn.QueryRow(ctx, "SELECT current_database()").Scan(&database); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to query database: %w", err)
	}

	return &PostgresRepository{conn: conn}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) SaveChatMessage(ctx context.Context, rec ChatRecord) error {
	q := `
	INSERT INTO chat_messages (room_id, player_id, display_name, message, created_at)
	VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := r.conn.Exec(ctx, q, rec.RoomID, rec.PlayerID, rec.DisplayName, rec.Message, rec.Timestamp); err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveSessionEvent(ctx context.Context, rec SessionRecord) error {
	q := `
	INSERT INTO session_events (room_id, player_id, event, created_at)
	VALUES ($1, $2, $3, $4);
	`
	if _, err := r.conn.Exec(ctx, q, rec.RoomID, rec.PlayerID, rec.Event, rec.Timestamp); err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRecentChat(ctx context.Context, roomID string, limit int) ([]ChatRecord, error) {
	q := `
	SELECT room_id, player_id, display_name, message, created_at
	FROM chat_messages
	WHERE room_id = $1
	ORDER BY created_at DESC
	LIMIT $2;
	`
	rows, err := r.conn.Query(ctx, q, roomID, limit)
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
