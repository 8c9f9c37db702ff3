package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestMessageStore_RecentClampsAndOrders(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore()
	channelID := uuid.New()

	for i := 0; i < 600; i++ {
		_, err := store.Append(ctx, channelID, "alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	tests := []struct {
		limit int
		want  int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{50, 50},
		{500, 500},
		{1000, 500},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit=%d", tt.limit), func(t *testing.T) {
			req := require.New(t)
			got, err := store.Recent(ctx, tt.limit, nil)
			req.NoError(err)
			req.Len(got, tt.want)
			req.Equal(repository.ClampLimit(tt.limit), len(got))

			for i := 1; i < len(got); i++ {
				req.Less(got[i-1].ID, got[i].ID, "messages must be oldest first")
			}
			// The slice is the newest tail of the log.
			req.Equal("msg 599", got[len(got)-1].Body)
		})
	}
}

func TestMessageStore_AppendRoundTrip(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := NewMessageStore()
	channelID := uuid.New()

	appended, err := store.Append(ctx, channelID, "alice", "hello")
	req.NoError(err)
	req.NotZero(appended.ID)
	req.False(appended.CreatedAt.IsZero())

	got, err := store.Recent(ctx, 1, nil)
	req.NoError(err)
	req.Len(got, 1)
	req.Equal(*appended, got[0])
}

func TestMessageStore_RecentScopedToChannel(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := NewMessageStore()
	general, random := uuid.New(), uuid.New()

	_, _ = store.Append(ctx, general, "alice", "one")
	_, _ = store.Append(ctx, random, "bob", "two")
	_, _ = store.Append(ctx, general, "alice", "three")

	got, err := store.Recent(ctx, 10, &general)
	req.NoError(err)
	req.Len(got, 2)
	req.Equal("one", got[0].Body)
	req.Equal("three", got[1].Body)

	all, err := store.Recent(ctx, 10, nil)
	req.NoError(err)
	req.Len(all, 3)
}

func TestMessageStore_IDsMonotonicUnderConcurrency(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := NewMessageStore()
	channelID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := store.Append(ctx, channelID, "alice", "hi"); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := store.Recent(ctx, 500, nil)
	req.NoError(err)
	req.Len(got, 200)
	seen := make(map[int64]bool)
	for _, m := range got {
		req.False(seen[m.ID], "duplicate id %d", m.ID)
		seen[m.ID] = true
	}
}

func TestChannelStore_DefaultIsIdempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := NewChannelStore()

	first, err := store.GetOrCreateDefault(ctx)
	req.NoError(err)
	second, err := store.GetOrCreateDefault(ctx)
	req.NoError(err)
	req.Equal(first.ID, second.ID)
	req.Equal("general", first.Name)

	exists, err := store.Exists(ctx, first.ID)
	req.NoError(err)
	req.True(exists)

	exists, err = store.Exists(ctx, uuid.New())
	req.NoError(err)
	req.False(exists)

	missing, err := store.GetByID(ctx, uuid.New())
	req.NoError(err)
	req.Nil(missing)
}

func TestUserStore_GetByUsername(t *testing.T) {
	req := require.New(t)
	store := NewUserStore()
	added := store.Add("alice")

	got, err := store.GetByUsername(context.Background(), "alice")
	req.NoError(err)
	req.Equal(added, *got)

	missing, err := store.GetByUsername(context.Background(), "bob")
	req.NoError(err)
	req.Nil(missing)
}

func TestUserStore_Ensure(t *testing.T) {
	req := require.New(t)
	store := NewUserStore()
	added := store.Add("alice")

	got, err := store.Ensure(context.Background(), "alice")
	req.NoError(err)
	req.Equal(added.ID, got.ID)

	created, err := store.Ensure(context.Background(), "bob")
	req.NoError(err)
	req.Equal("bob", created.Username)
}
