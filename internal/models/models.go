package models

import (
	"time"

	"github.com/google/uuid"
)

// SystemAuthor is the author name used for messages the server writes on
// behalf of nobody in particular (join announcements, client notices).
const SystemAuthor = "System"

// Default channel attributes. Legacy clients that never name a channel
// land here.
const (
	DefaultChannelName        = "general"
	DefaultChannelDescription = "General discussion"
)

// Channel is a chat room. Channels are managed elsewhere; the relay only
// needs to know that one exists and how to find the default one.
type Channel struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// User is the account a bearer token is issued for.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatMessage is a single persisted message.
//
// ID is a bigserial: higher ID means newer message, which is what the
// recency queries sort on. CreatedAt is assigned by the store and never
// changes afterwards.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	ChannelID uuid.UUID `json:"channelId"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsSystem reports whether the message was authored by the server.
func (m ChatMessage) IsSystem() bool {
	return m.Author == SystemAuthor
}

// TypingIndicator is a transient presence signal. It is fanned out to
// the channel's typing topic and never stored.
type TypingIndicator struct {
	Author    string    `json:"author"`
	ChannelID uuid.UUID `json:"channelId"`
	Typing    bool      `json:"typing"`
}
