// Package router turns inbound chat actions into persisted messages and
// the topic publications that announce them.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/auth"
	"github.com/lalith-99/accord/internal/models"
	"github.com/lalith-99/accord/internal/repository"
	"github.com/lalith-99/accord/internal/wire"
	"go.uber.org/zap"
)

// ValidationError names the field an action was rejected for. It wraps
// ErrValidation.
type ValidationError = wire.FieldError

var (
	ErrValidation      = wire.ErrInvalidRequest
	ErrChannelNotFound = errors.New("channel not found")
	ErrAuthorMismatch  = errors.New("author does not match authenticated user")
)

type Options struct {
	UsernameMinLength int
	UsernameMaxLength int
	MessageMaxLength  int
}

func DefaultOptions() Options {
	return Options{
		UsernameMinLength: 3,
		UsernameMaxLength: 50,
		MessageMaxLength:  1000,
	}
}

// Outbound is what a successful action publishes. Exactly one of Message
// and Typing is set.
type Outbound struct {
	Topic   string
	Message *models.ChatMessage
	Typing  *models.TypingIndicator
}

// Payload encodes the published value.
func (o Outbound) Payload() (json.RawMessage, error) {
	var v any = o.Message
	if o.Typing != nil {
		v = o.Typing
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

type Router struct {
	messages repository.MessageRepository
	channels *ChannelResolver
	validate *requestValidator
	logger   *zap.Logger
}

func New(messages repository.MessageRepository, channels *ChannelResolver, opts Options, logger *zap.Logger) *Router {
	return &Router{
		messages: messages,
		channels: channels,
		validate: newRequestValidator(opts),
		logger:   logger,
	}
}

// Dispatch handles one SEND frame. identity is the connection's
// authenticated user, or nil when the caller is trusted.
//
// Validation happens before anything is written. On error nothing was
// persisted and the returned Outbound is nil.
func (r *Router) Dispatch(ctx context.Context, identity *auth.Identity, destination string, body json.RawMessage) (*Outbound, error) {
	action, err := wire.ParseAction(destination)
	if err != nil {
		return nil, err
	}
	req, err := wire.DecodeRequest(action.Kind, body)
	if err != nil {
		return nil, err
	}

	switch req := req.(type) {
	case wire.SendRequest:
		return r.send(ctx, identity, action.ChannelID, req)
	case wire.JoinRequest:
		return r.join(ctx, identity, action.ChannelID, req)
	case wire.TypingRequest:
		return r.typing(ctx, identity, *action.ChannelID, req)
	default:
		return nil, fmt.Errorf("unhandled request %T", req)
	}
}

func (r *Router) send(ctx context.Context, identity *auth.Identity, channelID *uuid.UUID, req wire.SendRequest) (*Outbound, error) {
	author, err := r.checkAuthor(identity, req.Author)
	if err != nil {
		return nil, err
	}
	body, err := r.validate.body(req.Body)
	if err != nil {
		return nil, err
	}

	target, topic, err := r.resolve(ctx, channelID)
	if err != nil {
		return nil, err
	}

	msg, err := r.messages.Append(ctx, target, author, body)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	r.logger.Debug("message stored",
		zap.Int64("id", msg.ID),
		zap.String("channel_id", target.String()),
		zap.String("author", author),
	)
	return &Outbound{Topic: topic, Message: msg}, nil
}

func (r *Router) join(ctx context.Context, identity *auth.Identity, channelID *uuid.UUID, req wire.JoinRequest) (*Outbound, error) {
	author, err := r.checkAuthor(identity, req.Author)
	if err != nil {
		return nil, err
	}

	target, topic, err := r.resolve(ctx, channelID)
	if err != nil {
		return nil, err
	}

	msg, err := r.messages.Append(ctx, target, models.SystemAuthor, author+" has joined the chat")
	if err != nil {
		return nil, fmt.Errorf("append join message: %w", err)
	}

	r.logger.Info("user joined",
		zap.String("channel_id", target.String()),
		zap.String("username", author),
	)
	return &Outbound{Topic: topic, Message: msg}, nil
}

func (r *Router) typing(ctx context.Context, identity *auth.Identity, channelID uuid.UUID, req wire.TypingRequest) (*Outbound, error) {
	author, err := r.checkAuthor(identity, req.Author)
	if err != nil {
		return nil, err
	}
	if err := r.requireChannel(ctx, channelID); err != nil {
		return nil, err
	}

	return &Outbound{
		Topic: wire.TypingTopic(channelID),
		Typing: &models.TypingIndicator{
			Author:    author,
			ChannelID: channelID,
			Typing:    req.IsTyping(),
		},
	}, nil
}

// CanSubscribe checks a SUBSCRIBE destination: the topic must be one the
// relay publishes and its channel must exist.
func (r *Router) CanSubscribe(ctx context.Context, destination string) (wire.Topic, error) {
	topic, err := wire.ParseTopic(destination)
	if err != nil {
		return wire.Topic{}, err
	}
	if topic.ChannelID != nil {
		if err := r.requireChannel(ctx, *topic.ChannelID); err != nil {
			return wire.Topic{}, err
		}
	}
	return topic, nil
}

// resolve maps an optional channel id to the target channel and the
// topic its messages are published on. A nil id selects the default
// channel and the legacy global topic.
func (r *Router) resolve(ctx context.Context, channelID *uuid.UUID) (uuid.UUID, string, error) {
	if channelID == nil {
		ch, err := r.channels.Default(ctx)
		if err != nil {
			return uuid.Nil, "", err
		}
		return ch.ID, wire.MessageTopic(nil), nil
	}

	if err := r.requireChannel(ctx, *channelID); err != nil {
		return uuid.Nil, "", err
	}
	return *channelID, wire.MessageTopic(channelID), nil
}

func (r *Router) requireChannel(ctx context.Context, channelID uuid.UUID) error {
	ok, err := r.channels.Exists(ctx, channelID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	return nil
}

// checkAuthor validates the claimed author and, on an authenticated
// connection, requires it to be the connection's own username.
func (r *Router) checkAuthor(identity *auth.Identity, raw string) (string, error) {
	author, err := r.validate.author(raw)
	if err != nil {
		return "", err
	}
	if identity != nil && identity.Username != author {
		return "", fmt.Errorf("%w: %q", ErrAuthorMismatch, author)
	}
	return author, nil
}
