package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/models"
)

type ChannelStore struct {
	db *sql.DB
}

func NewChannelStore(db *sql.DB) *ChannelStore {
	return &ChannelStore{db: db}
}

func (s *ChannelStore) GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	query := `
		SELECT id, name, description, created_by, created_at
		FROM channels
		WHERE id = ?`

	ch, err := scanChannel(s.db.QueryRowContext(ctx, query, channelID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

func (s *ChannelStore) Exists(ctx context.Context, channelID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM channels WHERE id = ?)`, channelID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check channel: %w", err)
	}
	return exists, nil
}

func (s *ChannelStore) GetOrCreateDefault(ctx context.Context) (*models.Channel, error) {
	insert := `
		INSERT INTO channels (id, name, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, insert,
		uuid.New().String(),
		models.DefaultChannelName,
		models.DefaultChannelDescription,
		models.SystemAuthor,
		unixNano(time.Now()),
	); err != nil {
		return nil, fmt.Errorf("create default channel: %w", err)
	}

	query := `
		SELECT id, name, description, created_by, created_at
		FROM channels
		WHERE name = ?`

	ch, err := scanChannel(s.db.QueryRowContext(ctx, query, models.DefaultChannelName))
	if err != nil {
		return nil, fmt.Errorf("get default channel: %w", err)
	}
	return ch, nil
}

// Create inserts a channel. Channel management proper lives outside the
// relay; this exists for seeding and tests.
func (s *ChannelStore) Create(ctx context.Context, name, description, createdBy string) (*models.Channel, error) {
	ch := models.Channel{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   fromUnixNano(unixNano(time.Now())),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, name, description, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		ch.ID.String(), ch.Name, ch.Description, ch.CreatedBy, unixNano(ch.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	return &ch, nil
}

func scanChannel(row *sql.Row) (*models.Channel, error) {
	var (
		ch        models.Channel
		createdAt int64
	)
	if err := row.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.CreatedBy, &createdAt); err != nil {
		return nil, err
	}
	ch.CreatedAt = fromUnixNano(createdAt)
	return &ch, nil
}
