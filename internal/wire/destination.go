package wire

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Action destinations (client SEND targets).
const (
	DestSend   = "/app/chat.send"
	DestJoin   = "/app/chat.join"
	DestTyping = "/app/chat.typing"
)

// Topic destinations (client SUBSCRIBE targets).
const (
	TopicMessages = "/topic/messages"
	TopicTyping   = "/topic/typing"
)

type ActionKind int

const (
	ActionSend ActionKind = iota + 1
	ActionJoin
	ActionTyping
)

func (k ActionKind) String() string {
	switch k {
	case ActionSend:
		return "send"
	case ActionJoin:
		return "join"
	case ActionTyping:
		return "typing"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is a parsed SEND destination. ChannelID is nil on the legacy
// routes that target the default channel.
type Action struct {
	Kind      ActionKind
	ChannelID *uuid.UUID
}

// ParseAction parses an /app destination.
func ParseAction(destination string) (Action, error) {
	for _, route := range []struct {
		prefix string
		kind   ActionKind
	}{
		{DestSend, ActionSend},
		{DestJoin, ActionJoin},
		{DestTyping, ActionTyping},
	} {
		if destination == route.prefix {
			if route.kind == ActionTyping {
				return Action{}, &FieldError{Field: "destination", Reason: "typing requires a channel id"}
			}
			return Action{Kind: route.kind}, nil
		}
		rest, ok := strings.CutPrefix(destination, route.prefix+"/")
		if !ok {
			continue
		}
		id, err := uuid.Parse(rest)
		if err != nil {
			return Action{}, &FieldError{Field: "destination", Reason: fmt.Sprintf("invalid channel id %q", rest)}
		}
		return Action{Kind: route.kind, ChannelID: &id}, nil
	}
	return Action{}, &FieldError{Field: "destination", Reason: fmt.Sprintf("unknown destination %q", destination)}
}

// Destination renders the action back to its /app path.
func (a Action) Destination() string {
	var base string
	switch a.Kind {
	case ActionSend:
		base = DestSend
	case ActionJoin:
		base = DestJoin
	case ActionTyping:
		base = DestTyping
	}
	if a.ChannelID == nil {
		return base
	}
	return base + "/" + a.ChannelID.String()
}

type TopicKind int

const (
	TopicKindMessages TopicKind = iota + 1
	TopicKindTyping
)

// Topic is a parsed SUBSCRIBE destination. ChannelID is nil only for the
// legacy global message topic.
type Topic struct {
	Kind      TopicKind
	ChannelID *uuid.UUID
}

func ParseTopic(destination string) (Topic, error) {
	if destination == TopicMessages {
		return Topic{Kind: TopicKindMessages}, nil
	}
	for _, route := range []struct {
		prefix string
		kind   TopicKind
	}{
		{TopicMessages, TopicKindMessages},
		{TopicTyping, TopicKindTyping},
	} {
		rest, ok := strings.CutPrefix(destination, route.prefix+"/")
		if !ok {
			continue
		}
		id, err := uuid.Parse(rest)
		if err != nil {
			return Topic{}, &FieldError{Field: "destination", Reason: fmt.Sprintf("invalid channel id %q", rest)}
		}
		return Topic{Kind: route.kind, ChannelID: &id}, nil
	}
	return Topic{}, &FieldError{Field: "destination", Reason: fmt.Sprintf("unknown topic %q", destination)}
}

// Destination renders the topic in canonical form.
func (t Topic) Destination() string {
	if t.Kind == TopicKindTyping && t.ChannelID != nil {
		return TypingTopic(*t.ChannelID)
	}
	return MessageTopic(t.ChannelID)
}

// MessageTopic names the message topic for a channel, or the legacy
// global topic when channelID is nil.
func MessageTopic(channelID *uuid.UUID) string {
	if channelID == nil {
		return TopicMessages
	}
	return TopicMessages + "/" + channelID.String()
}

func TypingTopic(channelID uuid.UUID) string {
	return TopicTyping + "/" + channelID.String()
}
