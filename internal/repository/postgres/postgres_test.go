package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// openTestDB connects to ACCORD_TEST_DATABASE_URL, applies the schema and
// truncates every table. Tests are skipped when the variable is unset.
func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	url := os.Getenv("ACCORD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ACCORD_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	database, err := db.New(ctx, url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(database.Close)

	require.NoError(t, database.Migrate(ctx))
	_, err = database.Pool().Exec(ctx, `TRUNCATE messages, channels, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return database
}

func TestChannelStore_GetOrCreateDefault(t *testing.T) {
	req := require.New(t)
	database := openTestDB(t)
	ctx := context.Background()
	store := NewChannelStore(database.Pool())

	first, err := store.GetOrCreateDefault(ctx)
	req.NoError(err)
	second, err := store.GetOrCreateDefault(ctx)
	req.NoError(err)
	req.Equal(first.ID, second.ID)
	req.Equal("general", first.Name)
	req.Equal("System", first.CreatedBy)

	exists, err := store.Exists(ctx, first.ID)
	req.NoError(err)
	req.True(exists)

	missing, err := store.GetByID(ctx, uuid.New())
	req.NoError(err)
	req.Nil(missing)
}

func TestMessageStore_AppendAndRecent(t *testing.T) {
	req := require.New(t)
	database := openTestDB(t)
	ctx := context.Background()
	channels := NewChannelStore(database.Pool())
	messages := NewMessageStore(database.Pool())

	general, err := channels.GetOrCreateDefault(ctx)
	req.NoError(err)

	appended, err := messages.Append(ctx, general.ID, "alice", "hello")
	req.NoError(err)
	req.NotZero(appended.ID)

	got, err := messages.Recent(ctx, 1, nil)
	req.NoError(err)
	req.Len(got, 1)
	req.Equal(appended.ID, got[0].ID)
	req.Equal("hello", got[0].Body)

	for i := 0; i < 5; i++ {
		_, err := messages.Append(ctx, general.ID, "bob", fmt.Sprintf("n%d", i))
		req.NoError(err)
	}

	got, err = messages.Recent(ctx, 3, &general.ID)
	req.NoError(err)
	req.Len(got, 3)
	req.Equal([]string{"n2", "n3", "n4"}, []string{got[0].Body, got[1].Body, got[2].Body})

	got, err = messages.Recent(ctx, 0, nil)
	req.NoError(err)
	req.Len(got, 1)
}

func TestUserStore_GetByUsername(t *testing.T) {
	req := require.New(t)
	database := openTestDB(t)
	ctx := context.Background()
	store := NewUserStore(database.Pool())

	_, err := database.Pool().Exec(ctx, `INSERT INTO users (username) VALUES ('alice')`)
	req.NoError(err)

	u, err := store.GetByUsername(ctx, "alice")
	req.NoError(err)
	req.NotNil(u)
	req.Equal("alice", u.Username)

	missing, err := store.GetByUsername(ctx, "nobody")
	req.NoError(err)
	req.Nil(missing)
}

func TestUserStore_Ensure(t *testing.T) {
	req := require.New(t)
	database := openTestDB(t)
	ctx := context.Background()
	store := NewUserStore(database.Pool())

	first, err := store.Ensure(ctx, "alice")
	req.NoError(err)
	second, err := store.Ensure(ctx, "alice")
	req.NoError(err)
	req.Equal(first.ID, second.ID)
}
