package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/auth"
	"github.com/lalith-99/accord/internal/models"
	"github.com/lalith-99/accord/internal/repository/memory"
	"github.com/lalith-99/accord/internal/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	router   *Router
	messages *memory.MessageStore
	channels *memory.ChannelStore
	random   models.Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	messages := memory.NewMessageStore()
	channels := memory.NewChannelStore()
	random := channels.Create("random", "Off topic", "alice")
	return &fixture{
		router:   New(messages, NewChannelResolver(channels), DefaultOptions(), zap.NewNop()),
		messages: messages,
		channels: channels,
		random:   random,
	}
}

func body(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func (f *fixture) stored(t *testing.T) []models.ChatMessage {
	t.Helper()
	got, err := f.messages.Recent(context.Background(), 500, nil)
	require.NoError(t, err)
	return got
}

func TestDispatch_SendToDefaultChannel(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	out, err := f.router.Dispatch(context.Background(), nil, wire.DestSend,
		body(t, map[string]string{"author": "  alice ", "body": "  hi  "}))
	req.NoError(err)
	req.Equal(wire.TopicMessages, out.Topic)
	req.Nil(out.Typing)
	req.Equal("alice", out.Message.Author)
	req.Equal("hi", out.Message.Body)

	general, err := f.channels.GetOrCreateDefault(context.Background())
	req.NoError(err)
	req.Equal(general.ID, out.Message.ChannelID)

	stored := f.stored(t)
	req.Len(stored, 1)
	req.Equal(*out.Message, stored[0])
}

func TestDispatch_SendToExplicitChannel(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	dest := wire.Action{Kind: wire.ActionSend, ChannelID: &f.random.ID}.Destination()

	out, err := f.router.Dispatch(context.Background(), nil, dest,
		body(t, map[string]string{"author": "bob", "body": "hello"}))
	req.NoError(err)
	req.Equal("/topic/messages/"+f.random.ID.String(), out.Topic)
	req.Equal(f.random.ID, out.Message.ChannelID)
}

func TestDispatch_Validation(t *testing.T) {
	long := strings.Repeat("x", 1001)

	tests := []struct {
		name    string
		payload map[string]string
		field   string
	}{
		{"author too short", map[string]string{"author": "ab", "body": "hi"}, "author"},
		{"author empty", map[string]string{"author": "   ", "body": "hi"}, "author"},
		{"author bad chars", map[string]string{"author": "al ice", "body": "hi"}, "author"},
		{"author too long", map[string]string{"author": strings.Repeat("a", 51), "body": "hi"}, "author"},
		{"body blank", map[string]string{"author": "alice", "body": "   "}, "body"},
		{"body missing", map[string]string{"author": "alice"}, "body"},
		{"body too long", map[string]string{"author": "alice", "body": long}, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t)

			out, err := f.router.Dispatch(context.Background(), nil, wire.DestSend, body(t, tt.payload))
			req.ErrorIs(err, ErrValidation)
			req.Nil(out)

			var verr *ValidationError
			req.ErrorAs(err, &verr)
			req.Equal(tt.field, verr.Field)
			req.Empty(f.stored(t), "rejected actions must not be persisted")
		})
	}
}

func TestDispatch_AuthorBoundaries(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.router.Dispatch(context.Background(), nil, wire.DestSend,
		body(t, map[string]string{"author": "abc", "body": "hi"}))
	req.NoError(err)

	_, err = f.router.Dispatch(context.Background(), nil, wire.DestSend,
		body(t, map[string]string{"author": strings.Repeat("a", 50), "body": strings.Repeat("y", 1000)}))
	req.NoError(err)
}

func TestDispatch_CustomLengths(t *testing.T) {
	req := require.New(t)
	r := New(memory.NewMessageStore(), NewChannelResolver(memory.NewChannelStore()),
		Options{UsernameMinLength: 5, UsernameMaxLength: 8, MessageMaxLength: 3}, zap.NewNop())

	_, err := r.Dispatch(context.Background(), nil, wire.DestSend, body(t, map[string]string{"author": "abcd", "body": "hi"}))
	req.ErrorIs(err, ErrValidation)

	_, err = r.Dispatch(context.Background(), nil, wire.DestSend, body(t, map[string]string{"author": "abcde", "body": "long"}))
	req.ErrorIs(err, ErrValidation)

	_, err = r.Dispatch(context.Background(), nil, wire.DestSend, body(t, map[string]string{"author": "abcde", "body": "ok"}))
	req.NoError(err)
}

func TestDispatch_UnknownChannel(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	missing := uuid.New()

	for _, kind := range []wire.ActionKind{wire.ActionSend, wire.ActionJoin, wire.ActionTyping} {
		dest := wire.Action{Kind: kind, ChannelID: &missing}.Destination()
		out, err := f.router.Dispatch(context.Background(), nil, dest,
			body(t, map[string]string{"author": "alice", "body": "hi"}))
		req.ErrorIs(err, ErrChannelNotFound, kind.String())
		req.Nil(out, "nothing is published for %s", kind)
	}
	req.Empty(f.stored(t))
}

func TestDispatch_Join(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	dest := wire.Action{Kind: wire.ActionJoin, ChannelID: &f.random.ID}.Destination()

	out, err := f.router.Dispatch(context.Background(), nil, dest, body(t, map[string]string{"author": "alice"}))
	req.NoError(err)
	req.Equal(models.SystemAuthor, out.Message.Author)
	req.Equal("alice has joined the chat", out.Message.Body)
	req.True(out.Message.IsSystem())
	req.Equal(wire.MessageTopic(&f.random.ID), out.Topic)

	out, err = f.router.Dispatch(context.Background(), nil, wire.DestJoin, body(t, map[string]string{"author": "bob"}))
	req.NoError(err)
	req.Equal(wire.TopicMessages, out.Topic)
	req.Len(f.stored(t), 2)
}

func TestDispatch_Typing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	dest := wire.Action{Kind: wire.ActionTyping, ChannelID: &f.random.ID}.Destination()

	out, err := f.router.Dispatch(context.Background(), nil, dest, json.RawMessage(`{"author":"alice"}`))
	req.NoError(err)
	req.Nil(out.Message)
	req.Equal(wire.TypingTopic(f.random.ID), out.Topic)
	req.Equal(models.TypingIndicator{Author: "alice", ChannelID: f.random.ID, Typing: true}, *out.Typing)

	payload, err := out.Payload()
	req.NoError(err)
	req.JSONEq(`{"author":"alice","channelId":"`+f.random.ID.String()+`","typing":true}`, string(payload))

	out, err = f.router.Dispatch(context.Background(), nil, dest, json.RawMessage(`{"author":"alice","typing":false}`))
	req.NoError(err)
	req.False(out.Typing.Typing)

	req.Empty(f.stored(t), "typing is never persisted")
}

func TestDispatch_AuthorMustMatchIdentity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	identity := &auth.Identity{UserID: uuid.New(), Username: "alice"}

	_, err := f.router.Dispatch(context.Background(), identity, wire.DestSend,
		body(t, map[string]string{"author": "mallory", "body": "hi"}))
	req.ErrorIs(err, ErrAuthorMismatch)
	req.Empty(f.stored(t))

	_, err = f.router.Dispatch(context.Background(), identity, wire.DestSend,
		body(t, map[string]string{"author": "alice", "body": "hi"}))
	req.NoError(err)
}

func TestDispatch_BadDestinationOrBody(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.router.Dispatch(context.Background(), nil, "/app/chat.delete", json.RawMessage(`{}`))
	req.ErrorIs(err, ErrValidation)

	_, err = f.router.Dispatch(context.Background(), nil, wire.DestSend, json.RawMessage(`{"author":1}`))
	req.ErrorIs(err, ErrValidation)

	_, err = f.router.Dispatch(context.Background(), nil, wire.DestSend, nil)
	req.ErrorIs(err, ErrValidation)
}

type failingMessages struct{}

func (failingMessages) Append(context.Context, uuid.UUID, string, string) (*models.ChatMessage, error) {
	return nil, errors.New("disk full")
}

func (failingMessages) Recent(context.Context, int, *uuid.UUID) ([]models.ChatMessage, error) {
	return nil, errors.New("disk full")
}

func TestDispatch_StorageFailure(t *testing.T) {
	r := New(failingMessages{}, NewChannelResolver(memory.NewChannelStore()), DefaultOptions(), zap.NewNop())

	out, err := r.Dispatch(context.Background(), nil, wire.DestSend, json.RawMessage(`{"author":"alice","body":"hi"}`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrValidation)
	require.Nil(t, out)
}

func TestCanSubscribe(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.CanSubscribe(ctx, wire.TopicMessages)
	req.NoError(err)

	topic, err := f.router.CanSubscribe(ctx, wire.TypingTopic(f.random.ID))
	req.NoError(err)
	req.Equal(wire.TopicKindTyping, topic.Kind)

	missing := uuid.New()
	_, err = f.router.CanSubscribe(ctx, wire.MessageTopic(&missing))
	req.ErrorIs(err, ErrChannelNotFound)

	_, err = f.router.CanSubscribe(ctx, "/topic/secrets")
	req.ErrorIs(err, ErrValidation)
}

// countingChannels records how often the resolver reaches the repository.
type countingChannels struct {
	*memory.ChannelStore
	defaults atomic.Int32
	exists   atomic.Int32
}

func (c *countingChannels) GetOrCreateDefault(ctx context.Context) (*models.Channel, error) {
	c.defaults.Add(1)
	return c.ChannelStore.GetOrCreateDefault(ctx)
}

func (c *countingChannels) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	c.exists.Add(1)
	return c.ChannelStore.Exists(ctx, id)
}

func TestChannelResolver_DefaultIsIdempotent(t *testing.T) {
	req := require.New(t)
	repo := &countingChannels{ChannelStore: memory.NewChannelStore()}
	resolver := NewChannelResolver(repo)

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := resolver.Default(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = ch.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		req.Equal(ids[0], id)
	}

	ch, err := resolver.Default(context.Background())
	req.NoError(err)
	req.Equal(ids[0], ch.ID)
	req.LessOrEqual(int(repo.defaults.Load()), len(ids))

	before := repo.defaults.Load()
	_, _ = resolver.Default(context.Background())
	req.Equal(before, repo.defaults.Load(), "cached default must not hit the repository")
}

func TestChannelResolver_CachesPositiveExists(t *testing.T) {
	req := require.New(t)
	repo := &countingChannels{ChannelStore: memory.NewChannelStore()}
	resolver := NewChannelResolver(repo)
	ch := repo.Create("random", "", "alice")
	missing := uuid.New()

	for i := 0; i < 3; i++ {
		ok, err := resolver.Exists(context.Background(), ch.ID)
		req.NoError(err)
		req.True(ok)
	}
	req.Equal(int32(1), repo.exists.Load())

	for i := 0; i < 2; i++ {
		ok, err := resolver.Exists(context.Background(), missing)
		req.NoError(err)
		req.False(ok)
	}
	req.Equal(int32(3), repo.exists.Load(), "negative answers are not cached")
}
