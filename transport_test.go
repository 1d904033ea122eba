package soap

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransportSend(t *testing.T) {
	var gotHeader http.Header
	var gotBody []byte
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<ok/>`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(TransportOptions{
		UserAgent: "soapclient-test",
		Headers:   map[string]string{"X-Trace": "abc"},
	})
	require.NoError(t, err)

	resp, err := tr.Send(context.Background(), srv.URL, []byte(`<env/>`), "urn:Action")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "text/xml; charset=utf-8", gotHeader.Get("Content-Type"))
	assert.Equal(t, "urn:Action", gotHeader.Get("SOAPAction"))
	assert.Equal(t, "soapclient-test", gotHeader.Get("User-Agent"))
	assert.Equal(t, "abc", gotHeader.Get("X-Trace"))
	assert.Equal(t, `<env/>`, string(gotBody))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `<ok/>`, string(resp.Body))
	assert.False(t, resp.ReturnAt.Before(resp.InvokeAt))
}

func TestHTTPTransportPassesFaultBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<Fault/>`))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(TransportOptions{})
	require.NoError(t, err)

	resp, err := tr.Send(context.Background(), srv.URL, nil, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, `<Fault/>`, string(resp.Body))
}

func TestHTTPTransportTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	tr, err := NewHTTPTransport(TransportOptions{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), srv.URL, nil, "")
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
	assert.Contains(t, te.Description(), "timeout")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestHTTPTransportConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	tr, err := NewHTTPTransport(TransportOptions{Timeout: time.Second})
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), endpoint, nil, "")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Timeout)
	assert.Equal(t, endpoint, te.Endpoint)
}

func TestHTTPTransportRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<moved/>`))
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	tests := []struct {
		opts   TransportOptions
		status int
	}{
		{opts: TransportOptions{}, status: http.StatusTemporaryRedirect},
		{opts: TransportOptions{FollowRedirects: Bool(true)}, status: http.StatusOK},
	}
	for i, tt := range tests {
		tr, err := NewHTTPTransport(tt.opts)
		require.NoError(t, err)
		resp, err := tr.Send(context.Background(), srv.URL, []byte(`<x/>`), "")
		require.NoError(t, err, "#%d", i)
		assert.Equal(t, tt.status, resp.StatusCode, "#%d", i)
	}
}

func TestHTTPTransportRedirectLoop(t *testing.T) {
	var hits atomic.Int64
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, srv.URL, http.StatusFound)
	}))
	defer srv.Close()

	tests := []struct {
		max  int
		hits int64
	}{
		{max: 0, hits: DefaultMaxRedirects + 1},
		{max: 3, hits: 4},
	}
	for i, tt := range tests {
		hits.Store(0)
		tr, err := NewHTTPTransport(TransportOptions{
			FollowRedirects: Bool(true),
			MaxRedirects:    tt.max,
			Timeout:         5 * time.Second,
		})
		require.NoError(t, err)

		_, err = tr.Send(context.Background(), srv.URL, []byte(`<x/>`), "")
		var te *TransportError
		require.ErrorAs(t, err, &te, "#%d", i)
		assert.False(t, te.Timeout, "#%d", i)
		assert.Contains(t, err.Error(), "redirects", "#%d", i)
		assert.Equal(t, tt.hits, hits.Load(), "#%d", i)
	}
}

func TestHTTPTransportInvalidProxy(t *testing.T) {
	_, err := NewHTTPTransport(TransportOptions{Proxy: "://bad"})
	assert.Error(t, err)
}

type failingClient struct{ err error }

func (c failingClient) Do(*http.Request) (*http.Response, error) { return nil, c.err }

func TestHTTPTransportWithClient(t *testing.T) {
	tr := NewHTTPTransportWithClient(failingClient{err: context.DeadlineExceeded}, TransportOptions{})
	_, err := tr.Send(context.Background(), "http://example.invalid", nil, "")

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTransportOptionsMerge(t *testing.T) {
	base := TransportOptions{
		Timeout:   10 * time.Second,
		UserAgent: "base",
		Headers:   map[string]string{"A": "1", "B": "1"},
	}
	override := TransportOptions{
		Timeout:         5 * time.Second,
		FollowRedirects: Bool(true),
		Headers:         map[string]string{"B": "2"},
	}

	got := base.Merge(override)

	assert.Equal(t, 5*time.Second, got.Timeout)
	assert.Equal(t, "base", got.UserAgent)
	require.NotNil(t, got.FollowRedirects)
	assert.True(t, *got.FollowRedirects)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, got.Headers)
	assert.Equal(t, map[string]string{"A": "1", "B": "1"}, base.Headers, "merge must not mutate the receiver")

	def := DefaultTransportOptions().Merge(TransportOptions{})
	assert.Equal(t, DefaultTimeout, def.Timeout)
	assert.False(t, *def.FollowRedirects)
}
