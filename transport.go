package soap

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds a whole round-trip unless a profile or the caller overrides it.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRedirects caps redirect following when MaxRedirects is unset.
	DefaultMaxRedirects = 10

	contentType = "text/xml; charset=utf-8"

	defaultBufferSize = 8 * 1024
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, defaultBufferSize))
	},
}

// readAllPooled reads r into a pooled buffer and returns a copy of the data.
func readAllPooled(r io.Reader) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// TransportOptions configures the HTTP round-trip. The zero value of a field
// means "not set" so option sets can be layered with Merge.
type TransportOptions struct {
	Timeout            time.Duration `yaml:"timeout"`
	FollowRedirects    *bool         `yaml:"followRedirects"`
	MaxRedirects       int           `yaml:"maxRedirects"`
	InsecureSkipVerify *bool         `yaml:"insecureSkipVerify"`
	UserAgent          string        `yaml:"userAgent"`
	// Proxy is a proxy URL. "direct" disables proxying, empty uses the environment.
	Proxy   string            `yaml:"proxy"`
	Headers map[string]string `yaml:"headers"`
}

// DefaultTransportOptions returns the built-in baseline: a 30 second timeout,
// no redirect following and certificate verification enabled.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		Timeout:            DefaultTimeout,
		FollowRedirects:    Bool(false),
		InsecureSkipVerify: Bool(false),
	}
}

// Bool returns a pointer to b, for the optional fields of TransportOptions.
func Bool(b bool) *bool { return &b }

// Merge returns o overlaid with every field set in override. Header maps are
// merged key by key with override taking precedence.
func (o TransportOptions) Merge(override TransportOptions) TransportOptions {
	out := o
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.FollowRedirects != nil {
		out.FollowRedirects = Bool(*override.FollowRedirects)
	}
	if override.MaxRedirects != 0 {
		out.MaxRedirects = override.MaxRedirects
	}
	if override.InsecureSkipVerify != nil {
		out.InsecureSkipVerify = Bool(*override.InsecureSkipVerify)
	}
	if override.UserAgent != "" {
		out.UserAgent = override.UserAgent
	}
	if override.Proxy != "" {
		out.Proxy = override.Proxy
	}
	if len(o.Headers)+len(override.Headers) > 0 {
		out.Headers = make(map[string]string, len(o.Headers)+len(override.Headers))
		for k, v := range o.Headers {
			out.Headers[k] = v
		}
		for k, v := range override.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Transport performs one SOAP request/response exchange.
type Transport interface {
	Send(ctx context.Context, endpoint string, envelope []byte, soapAction string) (*Response, error)
}

// HTTPClient is the subset of *http.Client used by HTTPTransport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport posts envelopes over HTTP(S) and returns the full response body.
type HTTPTransport struct {
	client HTTPClient
	opts   TransportOptions
	now    func() time.Time
}

// NewHTTPTransport builds a transport from opts layered over DefaultTransportOptions.
func NewHTTPTransport(opts TransportOptions) (*HTTPTransport, error) {
	opts = DefaultTransportOptions().Merge(opts)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify != nil && *opts.InsecureSkipVerify, //nolint:gosec // opt-in per profile
	}
	switch opts.Proxy {
	case "":
	case "direct":
		transport.Proxy = nil
	default:
		u, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("transport: invalid proxy %q: %w", opts.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	client := &http.Client{
		Transport:     transport,
		Timeout:       opts.Timeout,
		CheckRedirect: redirectPolicy(opts),
	}
	return &HTTPTransport{client: client, opts: opts, now: time.Now}, nil
}

// NewHTTPTransportWithClient uses a caller-supplied client. Timeout, TLS,
// proxy and redirect settings in opts are then the client's concern; headers
// and user agent still apply.
func NewHTTPTransportWithClient(client HTTPClient, opts TransportOptions) *HTTPTransport {
	return &HTTPTransport{client: client, opts: DefaultTransportOptions().Merge(opts), now: time.Now}
}

func redirectPolicy(opts TransportOptions) func(*http.Request, []*http.Request) error {
	follow := opts.FollowRedirects != nil && *opts.FollowRedirects
	limit := opts.MaxRedirects
	if limit <= 0 {
		limit = DefaultMaxRedirects
	}
	return func(_ *http.Request, via []*http.Request) error {
		if !follow {
			return http.ErrUseLastResponse
		}
		if len(via) > limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	}
}

// Options returns the effective options of the transport.
func (t *HTTPTransport) Options() TransportOptions {
	return t.opts
}

// Send posts envelope to endpoint with the given SOAPAction header and reads
// the complete response. Any failure before the body is fully read is a
// *TransportError.
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, envelope []byte, soapAction string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, newTransportError(endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("SOAPAction", soapAction)
	if t.opts.UserAgent != "" {
		req.Header.Set("User-Agent", t.opts.UserAgent)
	}
	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}

	invokeAt := t.now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, newTransportError(endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readAllPooled(resp.Body)
	if err != nil {
		return nil, newTransportError(endpoint, fmt.Errorf("read response body: %w", err))
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		InvokeAt:   invokeAt,
		ReturnAt:   t.now(),
	}, nil
}
