//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	soap "github.com/m29h/soapclient"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("audit"),
		tcpostgres.WithUsername("audit"),
		tcpostgres.WithPassword("audit"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	require.NoError(t, sink.EnsureSchema(ctx))
	return sink
}

func TestSinkRecord(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	logger := soap.NewAuditLogger(sink, soap.WithAuditLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	rec, err := logger.Record(ctx, soap.Entry{
		Method:     "TestMethod",
		Request:    []byte(`<req/>`),
		Response:   &soap.Response{StatusCode: 200, Body: []byte(`<r><v>1</v></r>`)},
		Status:     soap.StatusSuccess,
		StatusCode: "200",
	})
	require.NoError(t, err)

	names, err := sink.Names(ctx, rec.Token)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		soap.RequestArtifact(rec.Token),
		soap.ResponseArtifact(rec.Token),
		soap.ResponseJSONArtifact(rec.Token),
		soap.RecordArtifact(rec.Token),
	}, names)

	data, err := sink.Artifact(ctx, soap.RecordArtifact(rec.Token))
	require.NoError(t, err)
	var stored soap.Record
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, soap.StatusSuccess, stored.Status)
}

func TestSinkAppendOnly(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	w, err := sink.Open(ctx, "tok")
	require.NoError(t, err)
	require.NoError(t, w.Put(ctx, "request_tok.xml", []byte(`<a/>`)))
	require.NoError(t, w.Close())

	w, err = sink.Open(ctx, "tok")
	require.NoError(t, err)
	err = w.Put(ctx, "request_tok.xml", []byte(`<b/>`))
	assert.ErrorIs(t, err, soap.ErrArtifactExists)
	require.NoError(t, w.Close())

	data, err := sink.Artifact(ctx, "request_tok.xml")
	require.NoError(t, err)
	assert.Equal(t, `<a/>`, string(data))
}
