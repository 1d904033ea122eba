//go:build integration

package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	soap "github.com/m29h/soapclient"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(addr)
	require.NoError(t, err)

	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestSinkRecord(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	sink := New(client, WithPrefix("test:"), WithTTL(time.Hour))

	logger := soap.NewAuditLogger(sink, soap.WithAuditLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	rec, err := logger.Record(ctx, soap.Entry{
		Request:    []byte(`<req/>`),
		Status:     soap.StatusError,
		StatusCode: "transport error: refused",
	})
	require.NoError(t, err)

	tokens, err := sink.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.Token}, tokens)

	data, err := sink.Artifact(ctx, soap.RequestArtifact(rec.Token))
	require.NoError(t, err)
	assert.Equal(t, `<req/>`, string(data))

	ttl, err := client.TTL(ctx, "test:"+soap.RecordArtifact(rec.Token)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = sink.Artifact(ctx, soap.ResponseArtifact(rec.Token))
	assert.Error(t, err)
}

func TestSinkAppendOnly(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	sink := New(client)

	w, err := sink.Open(ctx, "tok")
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, w.Put(ctx, "a", []byte("1")))
	assert.ErrorIs(t, w.Put(ctx, "a", []byte("2")), soap.ErrArtifactExists)

	data, err := sink.Artifact(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	// without WithTTL artifacts never expire
	ttl, err := client.TTL(ctx, DefaultPrefix+"a").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}
