package broker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// The relay test needs a real Redis; it is skipped unless
// ACCORD_TEST_REDIS_URL is set.
func TestRedisRelay_FansOutAcrossInstances(t *testing.T) {
	url := os.Getenv("ACCORD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ACCORD_TEST_REDIS_URL not set")
	}
	req := require.New(t)

	opts, err := redis.ParseURL(url)
	req.NoError(err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Unique prefix so parallel runs do not see each other.
	prefix := "accord-test-" + uuid.NewString() + ":"

	start := func() *Hub {
		hub := NewHub(zap.NewNop())
		relay := NewRedisRelay(rdb, hub, prefix, zap.NewNop())
		ready := make(chan struct{})
		go func() { _ = relay.Run(ctx, ready) }()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			t.Fatal("relay did not subscribe")
		}
		return hub
	}

	hubA, hubB := start(), start()
	subA := NewSubscriber("a", 4)
	subB := NewSubscriber("b", 4)
	req.NoError(hubA.Subscribe(subA, "1", "/topic/messages"))
	req.NoError(hubB.Subscribe(subB, "1", "/topic/messages"))

	publisher := NewRedisRelay(rdb, hubA, prefix, zap.NewNop())
	req.NoError(publisher.Publish(ctx, "/topic/messages", json.RawMessage(`{"body":"hi"}`)))

	for _, sub := range []*Subscriber{subA, subB} {
		select {
		case data := <-sub.Send():
			req.Contains(string(data), `"body":"hi"`)
		case <-time.After(5 * time.Second):
			t.Fatalf("subscriber %s got nothing", sub.ID)
		}
	}
}
