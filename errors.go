package soap

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransport matches any TransportError via errors.Is.
	ErrTransport = errors.New("soap: transport failure")
	// ErrParse matches any ParseError via errors.Is.
	ErrParse = errors.New("soap: response is not well-formed XML")
	// ErrInvalidName is returned when a method or parameter name cannot form an XML element.
	ErrInvalidName = errors.New("soap: invalid element name")
	// ErrArtifactExists is returned by a sink asked to overwrite an audit artifact.
	ErrArtifactExists = errors.New("soap: audit artifact already exists")
	// ErrUnknownProfile is returned when a transport profile name is not configured.
	ErrUnknownProfile = errors.New("soap: unknown transport profile")
)

// TransportError reports a failure to complete the HTTP round-trip: connection,
// DNS, TLS, timeout or an unreadable body. No response is available.
type TransportError struct {
	Endpoint string
	Timeout  bool
	Err      error
}

func newTransportError(endpoint string, err error) *TransportError {
	return &TransportError{Endpoint: endpoint, Timeout: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Description is the single descriptive string recorded as the audit status code.
func (e *TransportError) Description() string {
	if e.Timeout {
		return "timeout: " + e.Err.Error()
	}
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Error() string {
	return "soap: " + e.Description()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) hold for every TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ParseError reports that a response body could not be normalized.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("soap: failed to convert XML response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// ClientError is the single error type returned by Client.Call. It wraps a
// TransportError, a ParseError or ErrInvalidName.
type ClientError struct {
	Method string
	Err    error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("soap: call %s: %v", e.Method, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}
