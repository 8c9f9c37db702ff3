package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"connect", `{"command":"CONNECT","headers":{"Authorization":"Bearer x"}}`, false},
		{"send with body", `{"command":"SEND","destination":"/app/chat.send","body":{"author":"a","body":"b"}}`, false},
		{"not json", `hello`, true},
		{"missing command", `{"destination":"/app/chat.send"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEncodeDecode_Send(t *testing.T) {
	req := require.New(t)

	f, err := Send(DestSend, SendRequest{Author: "alice", Body: "hi"})
	req.NoError(err)

	data, err := Encode(f)
	req.NoError(err)

	got, err := Decode(data)
	req.NoError(err)
	req.Equal(CommandSend, got.Command)
	req.Equal(DestSend, got.Destination)
	req.JSONEq(`{"author":"alice","body":"hi"}`, string(got.Body))
}

func TestFrame_Header(t *testing.T) {
	req := require.New(t)
	f := Frame{Headers: map[string]string{"authorization": "Bearer abc"}}

	v, ok := f.Header(HeaderAuthorization)
	req.True(ok)
	req.Equal("Bearer abc", v)

	_, ok = f.Header("missing")
	req.False(ok)

	g := f.WithHeader("x", "y")
	_, ok = f.Header("x")
	req.False(ok, "WithHeader must not mutate the receiver")
	v, _ = g.Header("x")
	req.Equal("y", v)
}

func TestError_CarriesField(t *testing.T) {
	f := Error(&FieldError{Field: "author", Reason: "too short"})
	require.Equal(t, CommandError, f.Command)
	require.Equal(t, "author", f.Headers[HeaderField])
	require.Equal(t, "invalid author: too short", f.Headers[HeaderMessage])

	plain := Error(errors.New("boom"))
	require.NotContains(t, plain.Headers, HeaderField)
}

func TestParseAction(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		dest    string
		kind    ActionKind
		channel *uuid.UUID
		wantErr bool
	}{
		{dest: "/app/chat.send", kind: ActionSend},
		{dest: "/app/chat.send/" + id.String(), kind: ActionSend, channel: &id},
		{dest: "/app/chat.join", kind: ActionJoin},
		{dest: "/app/chat.join/" + id.String(), kind: ActionJoin, channel: &id},
		{dest: "/app/chat.typing/" + id.String(), kind: ActionTyping, channel: &id},
		{dest: "/app/chat.typing", wantErr: true},
		{dest: "/app/chat.send/not-a-uuid", wantErr: true},
		{dest: "/app/unknown", wantErr: true},
		{dest: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			req := require.New(t)
			got, err := ParseAction(tt.dest)
			if tt.wantErr {
				req.ErrorIs(err, ErrInvalidRequest)
				return
			}
			req.NoError(err)
			req.Equal(tt.kind, got.Kind)
			req.Equal(tt.channel, got.ChannelID)
			req.Equal(tt.dest, got.Destination())
		})
	}
}

func TestParseTopic(t *testing.T) {
	req := require.New(t)
	id := uuid.New()

	topic, err := ParseTopic(TopicMessages)
	req.NoError(err)
	req.Equal(TopicKindMessages, topic.Kind)
	req.Nil(topic.ChannelID)

	topic, err = ParseTopic(MessageTopic(&id))
	req.NoError(err)
	req.Equal(TopicKindMessages, topic.Kind)
	req.Equal(id, *topic.ChannelID)

	topic, err = ParseTopic(TypingTopic(id))
	req.NoError(err)
	req.Equal(TopicKindTyping, topic.Kind)
	req.Equal(id, *topic.ChannelID)

	_, err = ParseTopic(TopicTyping)
	req.Error(err)
	_, err = ParseTopic("/queue/private")
	req.Error(err)
}

func TestTopic_DestinationIsCanonical(t *testing.T) {
	id := uuid.New()
	upper := strings.ToUpper(id.String())

	tests := []struct {
		dest string
		want string
	}{
		{TopicMessages, TopicMessages},
		{TopicMessages + "/" + upper, MessageTopic(&id)},
		{TopicMessages + "/urn:uuid:" + id.String(), MessageTopic(&id)},
		{TopicTyping + "/{" + upper + "}", TypingTopic(id)},
	}
	for _, tt := range tests {
		topic, err := ParseTopic(tt.dest)
		require.NoError(t, err, tt.dest)
		require.Equal(t, tt.want, topic.Destination(), tt.dest)
	}
}

func TestDecodeRequest(t *testing.T) {
	t.Run("send", func(t *testing.T) {
		got, err := DecodeRequest(ActionSend, json.RawMessage(`{"author":"alice","body":"hi","channelId":"ignored"}`))
		require.NoError(t, err)
		require.Equal(t, SendRequest{Author: "alice", Body: "hi"}, got)
	})

	t.Run("typing defaults to true", func(t *testing.T) {
		got, err := DecodeRequest(ActionTyping, json.RawMessage(`{"author":"alice"}`))
		require.NoError(t, err)
		require.True(t, got.(TypingRequest).IsTyping())

		got, err = DecodeRequest(ActionTyping, json.RawMessage(`{"author":"alice","typing":false}`))
		require.NoError(t, err)
		require.False(t, got.(TypingRequest).IsTyping())
	})

	t.Run("wrong type reports field", func(t *testing.T) {
		_, err := DecodeRequest(ActionSend, json.RawMessage(`{"author":42}`))
		var fieldErr *FieldError
		require.ErrorAs(t, err, &fieldErr)
		require.Equal(t, "author", fieldErr.Field)
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := DecodeRequest(ActionJoin, nil)
		require.ErrorIs(t, err, ErrInvalidRequest)

		_, err = DecodeRequest(ActionJoin, json.RawMessage(`null`))
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}
