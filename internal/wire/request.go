package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidRequest is the root of every FieldError.
var ErrInvalidRequest = errors.New("invalid request")

// FieldError reports which part of an inbound action was rejected.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidRequest
}

// Request is one of SendRequest, JoinRequest or TypingRequest.
type Request interface {
	Kind() ActionKind
}

type SendRequest struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

func (SendRequest) Kind() ActionKind { return ActionSend }

type JoinRequest struct {
	Author string `json:"author"`
}

func (JoinRequest) Kind() ActionKind { return ActionJoin }

// TypingRequest.Typing is a pointer so a missing field can be told apart
// from an explicit false.
type TypingRequest struct {
	Author string `json:"author"`
	Typing *bool  `json:"typing"`
}

func (TypingRequest) Kind() ActionKind { return ActionTyping }

// IsTyping returns the typing flag, defaulting to true when absent.
func (r TypingRequest) IsTyping() bool {
	return r.Typing == nil || *r.Typing
}

// DecodeRequest decodes body into the request variant for kind. Type
// mismatches are reported against the offending JSON field.
func DecodeRequest(kind ActionKind, body json.RawMessage) (Request, error) {
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return nil, &FieldError{Field: "body", Reason: "payload must not be empty"}
	}

	switch kind {
	case ActionSend:
		var req SendRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		return req, nil
	case ActionJoin:
		var req JoinRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		return req, nil
	case ActionTyping:
		var req TypingRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		return req, nil
	default:
		return nil, &FieldError{Field: "destination", Reason: fmt.Sprintf("unsupported action %s", kind)}
	}
}

func decodeBody(body json.RawMessage, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &FieldError{Field: typeErr.Field, Reason: fmt.Sprintf("expected %s", typeErr.Type)}
		}
		return &FieldError{Field: "body", Reason: err.Error()}
	}
	return nil
}
