package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/accord/internal/models"
	"github.com/lalith-99/accord/internal/repository"
	"github.com/samber/lo"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Append(ctx context.Context, channelID uuid.UUID, author, body string) (*models.ChatMessage, error) {
	// Messages use bigserial, so Postgres assigns the ID; created_at
	// comes from the database clock so all instances agree.
	query := `
		INSERT INTO messages (channel_id, author, body, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, channel_id, author, body, created_at`

	var msg models.ChatMessage
	err := s.pool.QueryRow(ctx, query, channelID, author, body).Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.Author,
		&msg.Body,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) Recent(ctx context.Context, limit int, channelID *uuid.UUID) ([]models.ChatMessage, error) {
	limit = repository.ClampLimit(limit)

	var query string
	var args []any

	if channelID != nil {
		query = `
			SELECT id, channel_id, author, body, created_at
			FROM messages
			WHERE channel_id = $1
			ORDER BY id DESC
			LIMIT $2`
		args = []any{*channelID, limit}
	} else {
		query = `
			SELECT id, channel_id, author, body, created_at
			FROM messages
			ORDER BY id DESC
			LIMIT $1`
		args = []any{limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0, limit)
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.ChannelID,
			&msg.Author,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Rows come back newest first; callers always see oldest first.
	return lo.Reverse(messages), nil
}
