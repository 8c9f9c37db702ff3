package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/accord/internal/auth"
	"github.com/lalith-99/accord/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := memory.NewUserStore()
	users.Add("alice")
	gate := auth.NewGate(users, "secret", "accord", zap.NewNop())

	r := gin.New()
	r.GET("/me", AuthMiddleware(gate), func(c *gin.Context) {
		identity := GetIdentity(c)
		c.JSON(http.StatusOK, gin.H{"username": identity.Username})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(t)
	valid, err := auth.GenerateToken("alice", nil, "secret", "accord", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Token " + valid, http.StatusUnauthorized},
		{"tampered", "Bearer " + valid + "x", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.JSONEq(t, `{"username":"alice"}`, rec.Body.String())
			}
		})
	}
}

func TestGetIdentity_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	require.Nil(t, GetIdentity(c))
}
