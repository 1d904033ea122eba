package soap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome recorded for a call.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// tokenLayout gives second granularity; a random suffix keeps tokens of calls
// within the same second apart.
const tokenLayout = "20060102_150405"

// Sink stores audit artifacts. Open is called once per record and the
// returned writer is always closed, also after a failed Put.
type Sink interface {
	Open(ctx context.Context, token string) (SinkWriter, error)
}

// SinkWriter receives the artifacts of one record. Artifacts are append-only:
// writing a name that already exists fails with ErrArtifactExists.
type SinkWriter interface {
	Put(ctx context.Context, name string, data []byte) error
	Close() error
}

// Record is the structured summary persisted for every call.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	Token            string    `json:"token"`
	Status           Status    `json:"status"`
	StatusCode       string    `json:"statusCode"`
	Method           string    `json:"method,omitempty"`
	SOAPAction       string    `json:"soapAction,omitempty"`
	Endpoint         string    `json:"endpoint,omitempty"`
	DurationMS       int64     `json:"durationMs"`
	Fault            string    `json:"fault,omitempty"`
	RequestFile      *string   `json:"requestFile"`
	ResponseFile     *string   `json:"responseFile"`
	ResponseJSONFile *string   `json:"responseJsonFile"`
}

// Entry is what the client hands to the audit logger at the end of a call.
type Entry struct {
	Method     string
	SOAPAction string
	Endpoint   string
	Request    []byte
	// Response is nil when the transport failed.
	Response *Response
	// Tree is the normalized response if the caller already computed it.
	Tree       *Tree
	Fault      *Fault
	Status     Status
	StatusCode string
	Duration   time.Duration
}

// AuditLogger writes one record per call to a Sink. Failures are reported to
// the logger, the metrics and the optional error hook, and returned to the
// direct caller; Client never lets them reach its own caller.
type AuditLogger struct {
	sink    Sink
	logger  *slog.Logger
	metrics *Metrics
	onError func(token string, err error)
	now     func() time.Time
	newID   func() string
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditClock replaces time.Now as the source of record timestamps.
func WithAuditClock(now func() time.Time) AuditOption {
	return func(a *AuditLogger) { a.now = now }
}

// WithAuditFailureHook registers fn to be called for every failed record.
func WithAuditFailureHook(fn func(token string, err error)) AuditOption {
	return func(a *AuditLogger) { a.onError = fn }
}

// WithAuditLogger sets the side channel for audit failures.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLogger) { a.logger = l }
}

// WithAuditMetrics counts audit failures on m.
func WithAuditMetrics(m *Metrics) AuditOption {
	return func(a *AuditLogger) { a.metrics = m }
}

// NewAuditLogger returns a logger writing to sink.
func NewAuditLogger(sink Sink, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		sink:   sink,
		logger: slog.Default(),
		now:    time.Now,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewToken returns the identifier shared by the artifacts of one record.
func (a *AuditLogger) NewToken(ts time.Time) string {
	return ts.Format(tokenLayout) + "_" + a.newID()
}

// RequestArtifact names the envelope that was sent.
func RequestArtifact(token string) string { return "request_" + token + ".xml" }

// ResponseArtifact names the pretty-printed response body.
func ResponseArtifact(token string) string { return "response_" + token + ".xml" }

// ResponseJSONArtifact names the normalized response tree.
func ResponseJSONArtifact(token string) string { return "response_" + token + ".json" }

// RecordArtifact names the structured record.
func RecordArtifact(token string) string { return "log_" + token + ".json" }

// Record persists the request, the pretty-printed and normalized response when
// one exists, and the structured record. The record is returned even when
// persisting failed.
func (a *AuditLogger) Record(ctx context.Context, e Entry) (*Record, error) {
	ts := a.now()
	token := a.NewToken(ts)
	rec := &Record{
		Timestamp:  ts,
		Token:      token,
		Status:     e.Status,
		StatusCode: e.StatusCode,
		Method:     e.Method,
		SOAPAction: e.SOAPAction,
		Endpoint:   e.Endpoint,
		DurationMS: e.Duration.Milliseconds(),
	}
	if e.Fault != nil {
		rec.Fault = e.Fault.Error()
	}

	err := a.write(ctx, token, rec, e)
	if err != nil {
		a.report(ctx, token, err)
	}
	return rec, err
}

func (a *AuditLogger) write(ctx context.Context, token string, rec *Record, e Entry) (err error) {
	w, err := a.sink.Open(ctx, token)
	if err != nil {
		return fmt.Errorf("audit: open sink: %w", err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("audit: close sink: %w", cerr)
		}
	}()

	var errs []error
	put := func(name string, data []byte) bool {
		if perr := w.Put(ctx, name, data); perr != nil {
			errs = append(errs, fmt.Errorf("audit: write %s: %w", name, perr))
			return false
		}
		return true
	}

	reqName := RequestArtifact(token)
	if put(reqName, e.Request) {
		rec.RequestFile = &reqName
	}

	if e.Response != nil {
		// malformed bodies are stored verbatim
		pretty, _ := FormatXML(e.Response.Body)
		respName := ResponseArtifact(token)
		if put(respName, pretty) {
			rec.ResponseFile = &respName
		}

		tree := e.Tree
		if tree == nil {
			tree, _ = Normalize(e.Response.Body)
		}
		if tree != nil {
			data, merr := json.MarshalIndent(tree, "", "    ")
			if merr != nil {
				errs = append(errs, fmt.Errorf("audit: encode response tree: %w", merr))
			} else {
				jsonName := ResponseJSONArtifact(token)
				if put(jsonName, data) {
					rec.ResponseJSONFile = &jsonName
				}
			}
		}
	}

	data, merr := json.MarshalIndent(rec, "", "    ")
	if merr != nil {
		errs = append(errs, fmt.Errorf("audit: encode record: %w", merr))
	} else {
		put(RecordArtifact(token), data)
	}
	return errors.Join(errs...)
}

func (a *AuditLogger) report(ctx context.Context, token string, err error) {
	a.logger.LogAttrs(ctx, slog.LevelError, "audit record incomplete",
		slog.String("token", token),
		slog.String("error", err.Error()),
	)
	a.metrics.IncAuditFailures()
	if a.onError != nil {
		a.onError(token, err)
	}
}
