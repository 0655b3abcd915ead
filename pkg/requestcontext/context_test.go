package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"receiv3/pkg/domain"
)

func TestAccessorsDefaultWhenUnset(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, domain.Address(""), Caller(ctx))
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, ClientIP(ctx))
	assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)
}

func TestAccessorsRoundTrip(t *testing.T) {
	caller := domain.MustAddress("0x00000000000000000000000000000000000000b2")
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ctx := WithCaller(context.Background(), caller)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTime(ctx, ts)
	ctx = WithClientMetadata(ctx, "10.0.0.1", "curl/8")

	assert.Equal(t, caller, Caller(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, ts, Now(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "curl/8", UserAgent(ctx))
}
