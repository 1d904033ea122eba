package soap

import (
	"net/http"
	"time"
)

// Response is the raw result of a completed HTTP round-trip. The status code
// is not interpreted: fault bodies and non-2xx replies are returned as is.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	InvokeAt time.Time
	ReturnAt time.Time
}

// Duration is the time between sending the request and reading the full body.
func (r *Response) Duration() time.Duration {
	return r.ReturnAt.Sub(r.InvokeAt)
}
