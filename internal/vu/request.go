package vu

import (
	"context"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// RequestExecutor performs one request on behalf of an iteration. It is the
// engine's only view of the protocol client.
type RequestExecutor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// RequestExecutorFunc adapts a function to RequestExecutor.
type RequestExecutorFunc func(ctx context.Context, req *Request) (*Response, error)

// Execute calls f(ctx, req).
func (f RequestExecutorFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Request describes an outgoing request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Name groups requests in metrics. Defaults to URL without its query
	// string and fragment. Set it for URLs that embed identifiers so the
	// number of distinct tag sets stays small.
	Name string
	// Tags are added to every metric observation of this request.
	Tags map[string]string
	// Timeout bounds this request alone. Zero defers to the executor.
	Timeout time.Duration
}

// Response is the result of a request.
type Response struct {
	Status   int
	Duration time.Duration
	Timings  Timings
	Headers  http.Header
	Body     []byte
	// BytesSent is the request size as written to the wire, when known.
	BytesSent int64
}

// Timings breaks a request down into connection phases. Phases the executor
// could not observe are zero.
type Timings struct {
	Connecting     time.Duration
	TLSHandshaking time.Duration
	Waiting        time.Duration
	Receiving      time.Duration
}

// JSON extracts a value from a JSON body using gjson path syntax.
func (r *Response) JSON(path string) gjson.Result {
	if r == nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Body, path)
}

// OK reports whether the status is a success or redirect.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 400
}
