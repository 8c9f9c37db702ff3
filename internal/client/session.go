// Package client implements the client side of the relay protocol: it
// dials the server, performs the CONNECT handshake, subscribes to a
// channel and turns inbound frames into chat messages.
//
// A Session is driven by a single presentation loop. Network goroutines
// never touch session state; they push events onto the queue returned by
// Events, and the loop hands each one back to Handle.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/models"
	"github.com/lalith-99/accord/internal/wire"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("not connected to server")

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusHandshakeSent
	StatusSubscribed
	StatusClosed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusHandshakeSent:
		return "Authenticating"
	case StatusSubscribed:
		return "Connected"
	case StatusClosed:
		return "Closed"
	case StatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether the session can no longer be used.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

const (
	messageSubscription = "sub-0"
	typingSubscription  = "sub-1"
)

type Config struct {
	URL      string
	Token    string
	Username string
	// ChannelID selects a channel. Nil uses the legacy default route.
	ChannelID *uuid.UUID
	// QueueSize bounds the event queue. Zero means 64.
	QueueSize int
}

// Event is something that happened on the network side. Events are
// produced by the session's goroutines and consumed by Handle.
type Event interface {
	event()
}

type dialedEvent struct{ conn Conn }
type dialFailedEvent struct{ err error }
type frameEvent struct{ frame wire.Frame }
type closedEvent struct{ err error }

func (dialedEvent) event()     {}
func (dialFailedEvent) event() {}
func (frameEvent) event()      {}
func (closedEvent) event()     {}

// Update describes what one call into the session changed.
type Update struct {
	StatusChanged bool
	Status        Status
	Messages      []models.ChatMessage
	Typing        []models.TypingIndicator
	Notices       []string
	Err           error
}

type Session struct {
	cfg    Config
	dialer Dialer
	logger *zap.Logger

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	status   Status
	username string
	conn     Conn
}

func NewSession(cfg Config, dialer Dialer, logger *zap.Logger) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Session{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		events:   make(chan Event, cfg.QueueSize),
		status:   StatusDisconnected,
		username: cfg.Username,
	}
}

// Events is the queue the presentation loop drains.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the session has shut down. It is nil before Open.
func (s *Session) Done() <-chan struct{} {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Done()
}

func (s *Session) Status() Status {
	return s.status
}

// Username is the name messages are sent under. It is replaced by the
// server's user-name header once the handshake completes.
func (s *Session) Username() string {
	return s.username
}

func (s *Session) ChannelID() *uuid.UUID {
	return s.cfg.ChannelID
}

// Open starts dialing in the background. It does nothing unless the
// session is still Disconnected.
func (s *Session) Open(ctx context.Context) Update {
	if s.status != StatusDisconnected {
		return Update{Status: s.status}
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		conn, err := s.dialer.Dial(s.ctx, s.cfg.URL)
		if err != nil {
			s.push(dialFailedEvent{err: err})
			return
		}
		if !s.push(dialedEvent{conn: conn}) {
			_ = conn.Close()
		}
	}()

	return s.transition(StatusConnecting)
}

// Handle applies one event. It must only be called from the loop that
// owns the session.
func (s *Session) Handle(ev Event) Update {
	switch ev := ev.(type) {
	case dialedEvent:
		return s.onDialed(ev.conn)
	case dialFailedEvent:
		return s.fail(ev.err)
	case frameEvent:
		return s.onFrame(ev.frame)
	case closedEvent:
		return s.onClosed(ev.err)
	default:
		return Update{Status: s.status}
	}
}

// SendChatMessage sends body to the session's channel. It fails with
// ErrNotConnected unless the session is Subscribed.
func (s *Session) SendChatMessage(body string) error {
	return s.sendAction(wire.ActionSend, wire.SendRequest{Author: s.username, Body: body})
}

// SendTyping publishes a typing indicator. The legacy route has no typing
// topic, so it is a no-op there.
func (s *Session) SendTyping(typing bool) error {
	if s.cfg.ChannelID == nil {
		return nil
	}
	return s.sendAction(wire.ActionTyping, wire.TypingRequest{Author: s.username, Typing: &typing})
}

// Close ends the session. A Subscribed session says DISCONNECT first.
func (s *Session) Close() Update {
	if s.status.Terminal() {
		return Update{Status: s.status}
	}
	if s.conn != nil && s.status == StatusSubscribed {
		if err := s.conn.WriteFrame(wire.Frame{Command: wire.CommandDisconnect}); err != nil {
			s.logger.Debug("failed to send DISCONNECT", zap.Error(err))
		}
	}
	s.shutdown()
	return s.transition(StatusClosed)
}

func (s *Session) sendAction(kind wire.ActionKind, req wire.Request) error {
	if s.status != StatusSubscribed {
		return ErrNotConnected
	}
	f, err := wire.Send(wire.Action{Kind: kind, ChannelID: s.cfg.ChannelID}.Destination(), req)
	if err != nil {
		return err
	}
	if err := s.conn.WriteFrame(f); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

func (s *Session) onDialed(conn Conn) Update {
	if s.status != StatusConnecting {
		_ = conn.Close()
		return Update{Status: s.status}
	}
	s.conn = conn

	if err := conn.WriteFrame(wire.Connect(s.cfg.Token)); err != nil {
		return s.fail(fmt.Errorf("send CONNECT: %w", err))
	}
	go s.read(conn)

	s.logger.Debug("handshake sent", zap.String("url", s.cfg.URL))
	return s.transition(StatusHandshakeSent)
}

func (s *Session) onFrame(f wire.Frame) Update {
	switch f.Command {
	case wire.CommandConnected:
		return s.onConnected(f)
	case wire.CommandError:
		reason, _ := f.Header(wire.HeaderMessage)
		if s.status != StatusSubscribed {
			return s.fail(fmt.Errorf("server rejected connection: %s", reason))
		}
		s.logger.Debug("server error", zap.String("message", reason))
		return Update{Status: s.status, Notices: []string{reason}}
	case wire.CommandMessage:
		if s.status != StatusSubscribed {
			return Update{Status: s.status}
		}
		return s.onMessage(f)
	default:
		s.logger.Debug("ignoring frame", zap.String("command", string(f.Command)))
		return Update{Status: s.status}
	}
}

func (s *Session) onConnected(f wire.Frame) Update {
	if s.status != StatusHandshakeSent {
		return Update{Status: s.status}
	}
	if name, ok := f.Header(wire.HeaderUserName); ok && name != "" {
		s.username = name
	}

	frames := []wire.Frame{wire.Subscribe(messageSubscription, wire.MessageTopic(s.cfg.ChannelID))}
	if s.cfg.ChannelID != nil {
		frames = append(frames, wire.Subscribe(typingSubscription, wire.TypingTopic(*s.cfg.ChannelID)))
	}
	join, err := wire.Send(wire.Action{Kind: wire.ActionJoin, ChannelID: s.cfg.ChannelID}.Destination(),
		wire.JoinRequest{Author: s.username})
	if err != nil {
		return s.fail(err)
	}
	frames = append(frames, join)

	for _, frame := range frames {
		if err := s.conn.WriteFrame(frame); err != nil {
			return s.fail(fmt.Errorf("send %s: %w", frame.Command, err))
		}
	}

	s.logger.Info("connected",
		zap.String("username", s.username),
		zap.String("topic", wire.MessageTopic(s.cfg.ChannelID)),
	)
	return s.transition(StatusSubscribed)
}

func (s *Session) onMessage(f wire.Frame) Update {
	u := Update{Status: s.status}

	topic, err := wire.ParseTopic(f.Destination)
	if err != nil {
		s.logger.Warn("dropping message with unknown destination", zap.String("destination", f.Destination))
		return u
	}

	switch topic.Kind {
	case wire.TopicKindMessages:
		msg, err := decodeMessage(f.Body)
		if err != nil {
			s.logger.Warn("dropping malformed message", zap.Error(err))
			return u
		}
		u.Messages = append(u.Messages, msg)
	case wire.TopicKindTyping:
		ind, err := decodeTyping(f.Body)
		if err != nil {
			s.logger.Warn("dropping malformed typing indicator", zap.Error(err))
			return u
		}
		if ind.Author != s.username {
			u.Typing = append(u.Typing, ind)
		}
	}
	return u
}

func (s *Session) onClosed(err error) Update {
	if s.status.Terminal() {
		return Update{Status: s.status}
	}
	s.shutdown()
	if isOrderlyClose(err) {
		s.logger.Info("connection closed", zap.Error(err))
		return s.transition(StatusClosed)
	}
	return s.fail(fmt.Errorf("connection lost: %w", err))
}

func (s *Session) fail(err error) Update {
	if s.status.Terminal() {
		return Update{Status: s.status}
	}
	s.shutdown()
	s.logger.Warn("session failed", zap.Error(err))
	u := s.transition(StatusFailed)
	u.Err = err
	return u
}

func (s *Session) transition(to Status) Update {
	changed := s.status != to
	s.status = to
	return Update{StatusChanged: changed, Status: to}
}

func (s *Session) shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// read pumps frames from conn into the event queue until the connection
// ends. Frames that fail to decode are skipped.
func (s *Session) read(conn Conn) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, wire.ErrMalformedFrame) {
				s.logger.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			s.push(closedEvent{err: err})
			return
		}
		if !s.push(frameEvent{frame: f}) {
			return
		}
	}
}

func (s *Session) push(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// wireMessage mirrors models.ChatMessage with a lenient timestamp.
type wireMessage struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	ChannelID uuid.UUID `json:"channelId"`
	CreatedAt string    `json:"createdAt"`
}

// decodeMessage parses a message payload. A createdAt that does not parse
// leaves CreatedAt zero so the view stamps it with the receipt time.
func decodeMessage(body json.RawMessage) (models.ChatMessage, error) {
	var wm wireMessage
	if err := json.Unmarshal(body, &wm); err != nil {
		return models.ChatMessage{}, fmt.Errorf("decode message: %w", err)
	}
	if wm.Author == "" {
		return models.ChatMessage{}, errors.New("decode message: missing author")
	}

	msg := models.ChatMessage{
		ID:        wm.ID,
		Author:    wm.Author,
		Body:      wm.Body,
		ChannelID: wm.ChannelID,
	}
	if t, err := time.Parse(time.RFC3339Nano, wm.CreatedAt); err == nil {
		msg.CreatedAt = t
	}
	return msg, nil
}

// wireTyping mirrors models.TypingIndicator. Typing is a pointer because
// an indicator without the field means the author is typing.
type wireTyping struct {
	Author    string    `json:"author"`
	ChannelID uuid.UUID `json:"channelId"`
	Typing    *bool     `json:"typing"`
}

func decodeTyping(body json.RawMessage) (models.TypingIndicator, error) {
	var wt wireTyping
	if err := json.Unmarshal(body, &wt); err != nil {
		return models.TypingIndicator{}, fmt.Errorf("decode typing indicator: %w", err)
	}
	return models.TypingIndicator{
		Author:    wt.Author,
		ChannelID: wt.ChannelID,
		Typing:    wt.Typing == nil || *wt.Typing,
	}, nil
}
