// Package memory holds in-process implementations of the repository
// interfaces. They back STORAGE_DRIVER=memory and the test suites.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/models"
	"github.com/lalith-99/accord/internal/repository"
	"github.com/samber/lo"
)

type MessageStore struct {
	mu       sync.RWMutex
	nextID   int64
	messages []models.ChatMessage
	now      func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{now: time.Now}
}

func (s *MessageStore) Append(_ context.Context, channelID uuid.UUID, author, body string) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg := models.ChatMessage{
		ID:        s.nextID,
		Author:    author,
		Body:      body,
		ChannelID: channelID,
		CreatedAt: s.now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *MessageStore) Recent(_ context.Context, limit int, channelID *uuid.UUID) ([]models.ChatMessage, error) {
	limit = repository.ClampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk newest to oldest, the same order the SQL store reads in.
	out := make([]models.ChatMessage, 0, limit)
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := s.messages[i]
		if channelID != nil && msg.ChannelID != *channelID {
			continue
		}
		out = append(out, msg)
	}
	return lo.Reverse(out), nil
}

type ChannelStore struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]models.Channel
	now      func() time.Time
}

func NewChannelStore() *ChannelStore {
	return &ChannelStore{
		channels: make(map[uuid.UUID]models.Channel),
		now:      time.Now,
	}
}

// Create adds a channel. Channel CRUD lives outside the relay; this is
// how tests and local runs seed channels.
func (s *ChannelStore) Create(name, description, createdBy string) models.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(name, description, createdBy)
}

func (s *ChannelStore) createLocked(name, description, createdBy string) models.Channel {
	ch := models.Channel{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   s.now().UTC(),
	}
	s.channels[ch.ID] = ch
	return ch
}

func (s *ChannelStore) GetByID(_ context.Context, channelID uuid.UUID) (*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func (s *ChannelStore) Exists(_ context.Context, channelID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.channels[channelID]
	return ok, nil
}

func (s *ChannelStore) GetOrCreateDefault(_ context.Context) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.channels {
		if ch.Name == models.DefaultChannelName {
			return &ch, nil
		}
	}
	ch := s.createLocked(models.DefaultChannelName, models.DefaultChannelDescription, models.SystemAuthor)
	return &ch, nil
}

type UserStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]models.User)}
}

// Add registers a user, replacing any existing user with the same name.
func (s *UserStore) Add(username string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := models.User{ID: uuid.New(), Username: username, CreatedAt: time.Now().UTC()}
	s.users[username] = u
	return u
}

// Ensure adds username unless it is already registered.
func (s *UserStore) Ensure(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		u = models.User{ID: uuid.New(), Username: username, CreatedAt: time.Now().UTC()}
		s.users[username] = u
	}
	return &u, nil
}

func (s *UserStore) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

var (
	_ repository.MessageRepository = (*MessageStore)(nil)
	_ repository.ChannelRepository = (*ChannelStore)(nil)
	_ repository.UserRepository    = (*UserStore)(nil)
	_ repository.UserSeeder        = (*UserStore)(nil)
)
