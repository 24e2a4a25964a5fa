package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/claim-bot/pkg/config"
)

func TestNew_PingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestNew_FailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), config.RedisConfig{Addr: addr, MaxRetries: -1})
	assert.Error(t, err)
}

func TestHealthCheck_NilClient(t *testing.T) {
	var c *Client
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestNew_RecordsCommandMetrics(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	getsBefore := testutil.ToFloat64(redisRequestsTotal.WithLabelValues("get"))
	errsBefore := testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get"))

	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	require.NoError(t, client.Get(ctx, "k").Err())
	require.Error(t, client.Get(ctx, "missing").Err())

	assert.Equal(t, getsBefore+2, testutil.ToFloat64(redisRequestsTotal.WithLabelValues("get")))
	assert.Equal(t, errsBefore, testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get")))
}
