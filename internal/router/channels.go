package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/models"
	"github.com/lalith-99/accord/internal/repository"
	"golang.org/x/sync/singleflight"
)

// ChannelResolver answers "which channel does this action target" for the
// router. Channels are never deleted, so both the default channel and
// every positive existence check are cached for the life of the process.
type ChannelResolver struct {
	channels repository.ChannelRepository

	group          singleflight.Group
	defaultChannel atomic.Pointer[models.Channel]
	known          sync.Map // uuid.UUID -> struct{}
}

func NewChannelResolver(channels repository.ChannelRepository) *ChannelResolver {
	return &ChannelResolver{channels: channels}
}

// Default returns the default channel, creating it on first use.
//
// Right after startup many sockets can send on the legacy route at once.
// Without the singleflight each of them would run GetOrCreateDefault's
// INSERT and SELECT. The unique channel name keeps that correct but not
// cheap; the group collapses them into one round trip. A failed lookup is not cached, so the next caller retries.
func (r *ChannelResolver) Default(ctx context.Context) (*models.Channel, error) {
	if ch := r.defaultChannel.Load(); ch != nil {
		return ch, nil
	}

	v, err, _ := r.group.Do("default", func() (any, error) {
		ch, err := r.channels.GetOrCreateDefault(ctx)
		if err != nil {
			return nil, err
		}
		r.defaultChannel.Store(ch)
		r.known.Store(ch.ID, struct{}{})
		return ch, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve default channel: %w", err)
	}
	return v.(*models.Channel), nil
}

// Exists reports whether channelID names a channel. Only positive
// answers are cached; a channel created later is found on the next call.
func (r *ChannelResolver) Exists(ctx context.Context, channelID uuid.UUID) (bool, error) {
	if _, ok := r.known.Load(channelID); ok {
		return true, nil
	}

	ok, err := r.channels.Exists(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("check channel %s: %w", channelID, err)
	}
	if ok {
		r.known.Store(channelID, struct{}{})
	}
	return ok, nil
}
