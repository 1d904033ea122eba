// Package soap provides a SOAP client that builds envelopes from ordered
// parameter trees, converts XML responses into namespace-free trees and keeps
// an audit trail of every request and response.
package soap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// parseErrorStatusCode is recorded when a response body cannot be normalized.
const parseErrorStatusCode = "500"

// Client is an opaque handle to a SOAP service. Its configuration is fixed at
// construction, so a Client may be shared by concurrent callers.
type Client struct {
	endpoint   string
	namespaces Namespaces
	transport  Transport
	audit      *AuditLogger
	logger     *slog.Logger
	metrics    *Metrics
	buildOpts  []BuildOption
	now        func() time.Time
}

type options struct {
	profiles    Profiles
	profile     string
	override    TransportOptions
	transport   Transport
	sink        Sink
	logger      *slog.Logger
	metrics     *Metrics
	raw         bool
	now         func() time.Time
	auditErrors func(token string, err error)
}

// Option configures a Client.
type Option func(*options)

// WithProfile selects the named profile from profiles as the transport defaults.
func WithProfile(profiles Profiles, name string) Option {
	return func(o *options) {
		o.profiles = profiles
		o.profile = name
	}
}

// WithTransportOptions sets per-client transport settings that take precedence
// over the profile.
func WithTransportOptions(opts TransportOptions) Option {
	return func(o *options) { o.override = opts }
}

// WithTransport replaces the HTTP transport. Profile and transport options are
// then ignored.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithAuditSink sets where audit records are written. The default is a
// FileSink in DefaultAuditDir.
func WithAuditSink(s Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithAuditErrorHook is called whenever an audit record could not be fully persisted.
func WithAuditErrorHook(fn func(token string, err error)) Option {
	return func(o *options) { o.auditErrors = fn }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records call metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRawParams splices parameter values into the envelope unescaped.
func WithRawParams() Option {
	return func(o *options) { o.raw = true }
}

// WithClock replaces time.Now for durations and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewClient creates a Client for endpoint declaring namespaces on every
// envelope. Unless a profile is given the profile is taken from SOAP_ENV or
// APP_ENV and looked up in DefaultProfiles.
func NewClient(endpoint string, namespaces Namespaces, opts ...Option) (*Client, error) {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := namespaces.Validate(); err != nil {
		return nil, err
	}
	ns := make(Namespaces, len(namespaces))
	copy(ns, namespaces)

	transport := o.transport
	if transport == nil {
		profiles, name := o.profiles, o.profile
		if profiles == nil {
			profiles = DefaultProfiles()
		}
		if name == "" {
			name = ProfileFromEnv()
		}
		base, err := profiles.Resolve(name)
		if err != nil {
			return nil, err
		}
		t, err := NewHTTPTransport(DefaultTransportOptions().Merge(base).Merge(o.override))
		if err != nil {
			return nil, err
		}
		transport = t
	}

	sink := o.sink
	if sink == nil {
		sink = NewFileSink(DefaultAuditDir)
	}
	auditOpts := []AuditOption{
		WithAuditLogger(o.logger),
		WithAuditMetrics(o.metrics),
		WithAuditClock(o.now),
	}
	if o.auditErrors != nil {
		auditOpts = append(auditOpts, WithAuditFailureHook(o.auditErrors))
	}

	c := &Client{
		endpoint:   endpoint,
		namespaces: ns,
		transport:  transport,
		audit:      NewAuditLogger(sink, auditOpts...),
		logger:     o.logger,
		metrics:    o.metrics,
		now:        o.now,
	}
	if o.raw {
		c.buildOpts = append(c.buildOpts, WithRawValues())
	}
	return c, nil
}

// Result is the full outcome of a successful call.
type Result struct {
	Tree     *Tree
	Response *Response
	// Fault is set when the response body is a SOAP fault. The call is still successful.
	Fault  *Fault
	Record *Record
}

// Call invokes method with params and returns the normalized response. Any
// failure is a *ClientError wrapping a *TransportError, a *ParseError or
// ErrInvalidName. Exactly one audit record is written per call; audit
// failures never change the returned values.
func (c *Client) Call(ctx context.Context, method string, params *Tree, soapAction string) (*Tree, error) {
	res, err := c.Do(ctx, method, params, soapAction)
	if err != nil {
		return nil, err
	}
	return res.Tree, nil
}

// Do is Call returning the raw response, any detected fault and the audit record.
func (c *Client) Do(ctx context.Context, method string, params *Tree, soapAction string) (*Result, error) {
	start := c.now()
	entry := Entry{Method: method, SOAPAction: soapAction, Endpoint: c.endpoint}
	log := c.logger.With(slog.String("method", method), slog.String("soapAction", soapAction))

	envelope, err := BuildEnvelope(method, params, c.namespaces, c.buildOpts...)
	if err != nil {
		entry.Status, entry.StatusCode = StatusError, err.Error()
		return nil, c.fail(ctx, log, start, entry, err)
	}
	entry.Request = envelope

	log.LogAttrs(ctx, slog.LevelDebug, "sending soap request",
		slog.String("endpoint", c.endpoint),
		slog.Int("bytes", len(envelope)),
	)
	resp, err := c.transport.Send(ctx, c.endpoint, envelope, soapAction)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			te = newTransportError(c.endpoint, err)
			err = te
		}
		entry.Status, entry.StatusCode = StatusError, te.Description()
		return nil, c.fail(ctx, log, start, entry, err)
	}
	entry.Response = resp

	tree, err := Normalize(resp.Body)
	if err != nil {
		entry.Status, entry.StatusCode = StatusError, parseErrorStatusCode
		return nil, c.fail(ctx, log, start, entry, err)
	}
	entry.Tree = tree

	fault, ferr := ParseFault(resp.Body)
	if ferr != nil {
		log.LogAttrs(ctx, slog.LevelDebug, "fault detection skipped", slog.String("error", ferr.Error()))
	}
	if fault != nil {
		entry.Fault = fault
		c.metrics.IncFault(method, fault.Code)
		log.LogAttrs(ctx, slog.LevelWarn, "soap fault received",
			slog.String("code", fault.Code),
			slog.String("string", fault.String),
			slog.Int("httpStatus", resp.StatusCode),
		)
	}

	entry.Status, entry.StatusCode = StatusSuccess, strconv.Itoa(resp.StatusCode)
	entry.Duration = c.now().Sub(start)
	rec, _ := c.audit.Record(context.WithoutCancel(ctx), entry)
	c.metrics.ObserveCall(method, StatusSuccess, entry.Duration)
	log.LogAttrs(ctx, slog.LevelDebug, "soap call completed",
		slog.Int("httpStatus", resp.StatusCode),
		slog.Duration("duration", entry.Duration),
		slog.String("token", rec.Token),
	)
	return &Result{Tree: tree, Response: resp, Fault: fault, Record: rec}, nil
}

func (c *Client) fail(ctx context.Context, log *slog.Logger, start time.Time, entry Entry, cause error) error {
	entry.Duration = c.now().Sub(start)
	rec, _ := c.audit.Record(context.WithoutCancel(ctx), entry)
	c.metrics.ObserveCall(entry.Method, StatusError, entry.Duration)
	log.LogAttrs(ctx, slog.LevelError, "soap call failed",
		slog.String("statusCode", entry.StatusCode),
		slog.String("token", rec.Token),
		slog.String("error", cause.Error()),
	)
	return &ClientError{Method: entry.Method, Err: cause}
}

// Endpoint returns the service URL the client posts to.
func (c *Client) Endpoint() string { return c.endpoint }

// String implements fmt.Stringer.
func (c *Client) String() string {
	return fmt.Sprintf("soap.Client(%s)", c.endpoint)
}
