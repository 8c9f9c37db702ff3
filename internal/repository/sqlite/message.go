package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/models"
	"github.com/lalith-99/accord/internal/repository"
	"github.com/samber/lo"
)

type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Append(ctx context.Context, channelID uuid.UUID, author, body string) (*models.ChatMessage, error) {
	query := `
		INSERT INTO messages (channel_id, author, body, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id, created_at`

	msg := models.ChatMessage{ChannelID: channelID, Author: author, Body: body}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, channelID.String(), author, body, unixNano(time.Now())).
		Scan(&msg.ID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	msg.CreatedAt = fromUnixNano(createdAt)
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
			WHERE channel_id = ?
			ORDER BY id DESC
			LIMIT ?`
		args = []any{channelID.String(), limit}
	} else {
		query = `
			SELECT id, channel_id, author, body, created_at
			FROM messages
			ORDER BY id DESC
			LIMIT ?`
		args = []any{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0, limit)
	for rows.Next() {
		var (
			msg       models.ChatMessage
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.Author, &msg.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = fromUnixNano(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return lo.Reverse(messages), nil
}
