package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/models"
)

// Bounds for recency queries. Every MessageRepository clamps the
// caller's limit into [MinRecentLimit, MaxRecentLimit].
const (
	MinRecentLimit     = 1
	MaxRecentLimit     = 500
	DefaultRecentLimit = 50
)

// ClampLimit forces limit into [MinRecentLimit, MaxRecentLimit].
func ClampLimit(limit int) int {
	if limit < MinRecentLimit {
		return MinRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

// MessageRepository is the append-only chat log.
type MessageRepository interface {
	// Append persists a message and returns it with ID and CreatedAt
	// populated. An error means the storage is unavailable.
	Append(ctx context.Context, channelID uuid.UUID, author, body string) (*models.ChatMessage, error)

	// Recent returns up to ClampLimit(limit) of the newest messages,
	// oldest first. A nil channelID spans every channel.
	Recent(ctx context.Context, limit int, channelID *uuid.UUID) ([]models.ChatMessage, error)
}

// ChannelRepository is the read side of channel management plus the lazy
// creation of the default channel.
type ChannelRepository interface {
	// GetByID returns a single channel. Returns nil, nil if not found.
	GetByID(ctx context.Context, channelID uuid.UUID) (*models.Channel, error)

	// Exists reports whether a channel with this ID exists.
	Exists(ctx context.Context, channelID uuid.UUID) (bool, error)

	// GetOrCreateDefault returns the default channel, creating it on
	// first use. Concurrent callers all get the same channel.
	GetOrCreateDefault(ctx context.Context) (*models.Channel, error)
}

// UserRepository resolves the account named in a bearer token.
type UserRepository interface {
	// GetByUsername returns nil, nil if no such user exists.
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// UserSeeder registers accounts named in configuration at startup.
// Registration proper belongs to the account service.
type UserSeeder interface {
	// Ensure creates the user if needed and returns the stored account.
	Ensure(ctx context.Context, username string) (*models.User, error)
}
