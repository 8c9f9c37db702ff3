package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/models"
	"github.com/lalith-99/accord/internal/wire"
	"go.uber.org/zap"
)

// ErrAuthRejected is returned for every refused connection attempt. The
// wrapped error says why; callers should not show it to the client.
var ErrAuthRejected = errors.New("authentication rejected")

// Identity is the authenticated user attached to a connection.
type Identity struct {
	UserID   uuid.UUID
	Username string
	Scope    []string
}

// IdentityResolver looks a user up by name. It returns nil, nil when the
// user does not exist.
type IdentityResolver interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// Gate authenticates the CONNECT frame of every realtime connection and
// the Authorization header of REST requests.
type Gate struct {
	users  IdentityResolver
	secret string
	issuer string
	logger *zap.Logger
}

func NewGate(users IdentityResolver, secret, issuer string, logger *zap.Logger) *Gate {
	return &Gate{users: users, secret: secret, issuer: issuer, logger: logger}
}

// Intercept inspects one inbound frame. Frames other than CONNECT pass
// through with a nil identity and nil error. A CONNECT frame either yields
// the identity to attach to the connection or ErrAuthRejected.
func (g *Gate) Intercept(ctx context.Context, f wire.Frame) (*Identity, error) {
	if f.Command != wire.CommandConnect {
		return nil, nil
	}
	header, _ := f.Header(wire.HeaderAuthorization)
	return g.Authenticate(ctx, header)
}

// Authenticate verifies an "Authorization: Bearer <token>" value.
func (g *Gate) Authenticate(ctx context.Context, header string) (*Identity, error) {
	identity, err := g.authenticate(ctx, header)
	if err != nil {
		g.logger.Warn("connection rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}
	return identity, nil
}

func (g *Gate) authenticate(ctx context.Context, header string) (*Identity, error) {
	token, err := BearerToken(header)
	if err != nil {
		return nil, err
	}

	// The subject is read before verification so an unknown user is
	// rejected without spending an HMAC on the token.
	username, err := subjectOf(token)
	if err != nil {
		return nil, err
	}

	user, err := g.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("unknown user %q", username)
	}

	claims, err := ParseToken(token, g.secret, g.issuer)
	if err != nil {
		return nil, err
	}
	if claims.Subject != user.Username {
		return nil, fmt.Errorf("subject %q does not match user %q", claims.Subject, user.Username)
	}

	return &Identity{
		UserID:   user.ID,
		Username: user.Username,
		Scope:    claims.Scope,
	}, nil
}

// BearerToken extracts the token from a "Bearer <token>" header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization format, expected: Bearer <token>")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
