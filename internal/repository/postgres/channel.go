package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/accord/internal/models"
)

type ChannelStore struct {
	pool *pgxpool.Pool
}

func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{pool: pool}
}

func (s *ChannelStore) GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	query := `
		SELECT id, name, description, created_by, created_at
		FROM channels
		WHERE id = $1`

	var ch models.Channel
	err := s.pool.QueryRow(ctx, query, channelID).Scan(
		&ch.ID,
		&ch.Name,
		&ch.Description,
		&ch.CreatedBy,
		&ch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

func (s *ChannelStore) Exists(ctx context.Context, channelID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM channels WHERE id = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, channelID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check channel: %w", err)
	}
	return exists, nil
}

func (s *ChannelStore) GetOrCreateDefault(ctx context.Context) (*models.Channel, error) {
	// ON CONFLICT DO NOTHING on the unique name makes concurrent first
	// uses converge on one row; the SELECT then reads whichever insert won.
	insert := `
		INSERT INTO channels (name, description, created_by, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO NOTHING`

	if _, err := s.pool.Exec(ctx, insert,
		models.DefaultChannelName,
		models.DefaultChannelDescription,
		models.SystemAuthor,
	); err != nil {
		return nil, fmt.Errorf("create default channel: %w", err)
	}

	query := `
		SELECT id, name, description, created_by, created_at
		FROM channels
		WHERE name = $1`

	var ch models.Channel
	err := s.pool.QueryRow(ctx, query, models.DefaultChannelName).Scan(
		&ch.ID,
		&ch.Name,
		&ch.Description,
		&ch.CreatedBy,
		&ch.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get default channel: %w", err)
	}
	return &ch, nil
}
