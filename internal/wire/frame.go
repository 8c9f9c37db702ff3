// Package wire defines the frame protocol spoken over the /ws socket.
//
// Every WebSocket text message carries one JSON frame. The command set
// and destination names follow STOMP: CONNECT/CONNECTED for the
// handshake, SUBSCRIBE to a /topic destination, SEND to an /app
// destination, MESSAGE for deliveries.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandConnect     Command = "CONNECT"
	CommandConnected   Command = "CONNECTED"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandSend        Command = "SEND"
	CommandMessage     Command = "MESSAGE"
	CommandError       Command = "ERROR"
	CommandDisconnect  Command = "DISCONNECT"
)

// Header names.
const (
	HeaderAuthorization = "Authorization"
	HeaderAcceptVersion = "accept-version"
	HeaderVersion       = "version"
	HeaderUserName      = "user-name"
	HeaderMessage       = "message"
	HeaderField         = "field"
)

const ProtocolVersion = "1.0"

// ErrMalformedFrame is returned by Decode for anything that is not a
// well-formed frame.
var ErrMalformedFrame = errors.New("malformed frame")

type Frame struct {
	Command      Command           `json:"command"`
	Headers      map[string]string `json:"headers,omitempty"`
	Destination  string            `json:"destination,omitempty"`
	Subscription string            `json:"subscription,omitempty"`
	Body         json.RawMessage   `json:"body,omitempty"`
}

// Header returns the named header, matching the name case-insensitively.
func (f Frame) Header(name string) (string, bool) {
	if v, ok := f.Headers[name]; ok {
		return v, true
	}
	for k, v := range f.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// WithHeader returns a copy of f with the header set.
func (f Frame) WithHeader(name, value string) Frame {
	headers := make(map[string]string, len(f.Headers)+1)
	for k, v := range f.Headers {
		headers[k] = v
	}
	headers[name] = value
	f.Headers = headers
	return f
}

func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Command == "" {
		return Frame{}, fmt.Errorf("%w: missing command", ErrMalformedFrame)
	}
	return f, nil
}

// Connect builds the handshake frame carrying a bearer credential.
func Connect(token string) Frame {
	return Frame{
		Command: CommandConnect,
		Headers: map[string]string{
			HeaderAcceptVersion: ProtocolVersion,
			HeaderAuthorization: "Bearer " + token,
		},
	}
}

func Connected(username string) Frame {
	return Frame{
		Command: CommandConnected,
		Headers: map[string]string{
			HeaderVersion:  ProtocolVersion,
			HeaderUserName: username,
		},
	}
}

func Subscribe(id, destination string) Frame {
	return Frame{Command: CommandSubscribe, Subscription: id, Destination: destination}
}

func Unsubscribe(id string) Frame {
	return Frame{Command: CommandUnsubscribe, Subscription: id}
}

// Send builds a SEND frame with v marshaled as the body.
func Send(destination string, v any) (Frame, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode body: %w", err)
	}
	return Frame{Command: CommandSend, Destination: destination, Body: body}, nil
}

func Message(subscription, destination string, body json.RawMessage) Frame {
	return Frame{
		Command:      CommandMessage,
		Subscription: subscription,
		Destination:  destination,
		Body:         body,
	}
}

// Error builds an ERROR frame. A FieldError in err also fills the field
// header so clients can point at the offending input.
func Error(err error) Frame {
	f := Frame{
		Command: CommandError,
		Headers: map[string]string{HeaderMessage: err.Error()},
	}
	var fieldErr *FieldError
	if errors.As(err, &fieldErr) {
		f.Headers[HeaderField] = fieldErr.Field
	}
	return f
}
