package qdrant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Host: "qdrant.internal"}.withDefaults()

	assert.Equal(t, "qdrant.internal", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 16<<20, cfg.MaxMessageSize)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	require.NoError(t, cfg.validate())

	assert.Error(t, Config{Port: 70000}.withDefaults().validate())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain error", errors.New("boom"), false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "busy"), true},
		{"not found", status.Error(codes.NotFound, "missing"), false},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}

func TestPayload_EncodeDecode(t *testing.T) {
	in := Payload{
		Key:       "p-0001",
		Namespace: "patterns:short_term",
		Content:   "validate JWT token signature",
		Tags:      []string{"security", "auth"},
		Metadata:  map[string]string{"agent": "security-architect"},
	}
	assert.Equal(t, in, decodePayload(encodePayload(in)))

	empty := decodePayload(encodePayload(Payload{Key: "k"}))
	assert.Equal(t, "k", empty.Key)
	assert.Nil(t, empty.Tags)
	assert.Nil(t, empty.Metadata)

	assert.Equal(t, Payload{}, decodePayload(nil))
}

func TestDecodePoints(t *testing.T) {
	points := decodePoints([]*qdrant.RetrievedPoint{
		{Id: qdrant.NewIDUUID("550e8400-e29b-41d4-a716-446655440000")},
		{Id: qdrant.NewIDNum(42)},
	})
	require.Len(t, points, 2)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", points[0].ID)
	assert.Equal(t, "42", points[1].ID)
	assert.Nil(t, points[0].Vector)
}

func TestDo(t *testing.T) {
	c := &GRPCClient{
		cfg:    Config{RetryAttempts: 2, RetryBackoff: time.Millisecond, RequestTimeout: time.Second},
		logger: zap.NewNop(),
	}

	t.Run("permanent error is not retried", func(t *testing.T) {
		calls := 0
		err := c.do(context.Background(), "get", func(context.Context) error {
			calls++
			return status.Error(codes.InvalidArgument, "bad")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Contains(t, err.Error(), "qdrant get")
	})

	t.Run("transient error retries then succeeds", func(t *testing.T) {
		calls := 0
		err := c.do(context.Background(), "upsert", func(context.Context) error {
			calls++
			if calls < 3 {
				return status.Error(codes.Unavailable, "down")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		calls := 0
		err := c.do(context.Background(), "scroll", func(context.Context) error {
			calls++
			return status.Error(codes.Unavailable, "down")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("canceled context stops backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := &GRPCClient{cfg: Config{RetryAttempts: 5, RetryBackoff: time.Hour, RequestTimeout: time.Second}, logger: zap.NewNop()}

		err := slow.do(ctx, "delete", func(context.Context) error {
			return status.Error(codes.Unavailable, "down")
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
