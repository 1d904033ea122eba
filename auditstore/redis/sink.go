// Package redis stores audit artifacts as Redis string keys. Keys are set
// with SETNX so an artifact is never overwritten, and every record token is
// appended to an index list.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	soap "github.com/m29h/soapclient"
)

// DefaultPrefix namespaces all keys written by the sink.
const DefaultPrefix = "soap:audit:"

// Sink implements soap.Sink on a go-redis client.
type Sink struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a Sink.
type Option func(*Sink)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Sink) { s.prefix = prefix }
}

// WithTTL expires artifacts after ttl. Zero, the default, keeps them forever.
// A non-zero ttl opts out of the append-only retention guarantee: Redis
// deletes each artifact once it expires, so use it only where another store
// holds the durable trail.
func WithTTL(ttl time.Duration) Option {
	return func(s *Sink) { s.ttl = ttl }
}

// New creates a sink on client.
func New(client goredis.UniversalClient, opts ...Option) *Sink {
	s := &Sink{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Sink, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts...), nil
}

// Close closes the underlying client.
func (s *Sink) Close() error {
	return s.client.Close()
}

func (s *Sink) key(name string) string { return s.prefix + name }

// IndexKey is the list holding record tokens in write order.
func (s *Sink) IndexKey() string { return s.prefix + "tokens" }

// Open records token in the index.
func (s *Sink) Open(ctx context.Context, token string) (soap.SinkWriter, error) {
	if err := s.client.RPush(ctx, s.IndexKey(), token).Err(); err != nil {
		return nil, fmt.Errorf("index audit token: %w", err)
	}
	return &writer{sink: s}, nil
}

// Artifact returns the stored content of name.
func (s *Sink) Artifact(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("artifact %s not found", name)
	}
	return data, err
}

// Tokens returns the indexed record tokens in write order.
func (s *Sink) Tokens(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, s.IndexKey(), 0, -1).Result()
}

type writer struct {
	sink *Sink
}

func (w *writer) Put(ctx context.Context, name string, data []byte) error {
	ok, err := w.sink.client.SetNX(ctx, w.sink.key(name), data, w.sink.ttl).Result()
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", soap.ErrArtifactExists, name)
	}
	return nil
}

func (w *writer) Close() error { return nil }
