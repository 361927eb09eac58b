package vu

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/clock"
	"github.com/wesleyorama2/stampede/internal/fixture"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/runerr"
)

// ErrNoRequestExecutor is returned by Context.Request when the executor was
// built without a RequestExecutor.
var ErrNoRequestExecutor = errors.New("no request executor configured")

// Context is the per-iteration handle passed to a Task.
type Context struct {
	ctx       context.Context
	vu        *VirtualUser
	iteration int64
	inTest    int64
	exec      *Executor
}

// Context returns the iteration's context. It is cancelled on iteration
// timeout or hard stop.
func (it *Context) Context() context.Context {
	return it.ctx
}

// VUID returns the ID of the VU running this iteration.
func (it *Context) VUID() int {
	return it.vu.ID
}

// VU returns the VU running this iteration.
func (it *Context) VU() *VirtualUser {
	return it.vu
}

// Iteration is the zero-based iteration index within the VU.
func (it *Context) Iteration() int64 {
	return it.iteration
}

// IterationInTest is the zero-based iteration index across the run.
func (it *Context) IterationInTest() int64 {
	return it.inTest
}

// Shared returns the read-only fixture data.
func (it *Context) Shared() *fixture.Data {
	return it.exec.opts.Shared
}

// Logger returns a logger annotated with the VU and iteration.
func (it *Context) Logger() *zap.Logger {
	return it.exec.log.With(zap.Int("vu", it.vu.ID), zap.Int64("iteration", it.inTest))
}

// Registry returns the run's metric registry for custom metrics.
func (it *Context) Registry() *metrics.Registry {
	return it.exec.opts.Registry
}

// Record adds value to the custom metric name. The metric must be registered.
func (it *Context) Record(name string, value float64, tags map[string]string) error {
	m := it.exec.opts.Registry.Get(name)
	if m == nil {
		return fmt.Errorf("metric %q is not registered", name)
	}
	return m.Add(value, it.exec.opts.Tags.Merge(metrics.NewTagSet(tags)))
}

// Check records a named boolean assertion into the checks rate and returns ok.
func (it *Context) Check(name string, ok bool, tags ...map[string]string) bool {
	set := it.exec.opts.Tags.With("check", name)
	for _, t := range tags {
		set = set.Merge(metrics.NewTagSet(t))
	}
	v := 0.0
	if ok {
		v = 1
	}
	_ = it.exec.builtin.Checks.Add(v, set)
	return ok
}

// Sleep pauses the iteration. It returns early with an error when the
// iteration is cancelled.
func (it *Context) Sleep(d time.Duration) error {
	return clock.Sleep(it.ctx, it.exec.clock, d)
}

// Abort returns an error that, when returned from the task, stops the whole
// run gracefully.
func (it *Context) Abort(reason string) error {
	if reason == "" {
		reason = "run aborted by iteration"
	}
	return runerr.Abort(reason)
}

// Get issues a GET request.
func (it *Context) Get(url string, tags map[string]string) (*Response, error) {
	return it.Request(&Request{Method: "GET", URL: url, Tags: tags})
}

// Post issues a POST request.
func (it *Context) Post(url string, body []byte, headers map[string]string) (*Response, error) {
	return it.Request(&Request{Method: "POST", URL: url, Body: body, Headers: headers})
}

// Request sends req through the request executor and records the built-in
// HTTP metrics. A transport error is returned alongside whatever response
// data the executor produced; it counts as a failed request.
func (it *Context) Request(req *Request) (*Response, error) {
	e := it.exec
	if e.opts.Requests == nil {
		return nil, ErrNoRequestExecutor
	}
	if e.opts.Limiter != nil {
		if err := e.opts.Limiter.Wait(it.ctx); err != nil {
			return nil, err
		}
	}

	ctx := it.ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := e.clock.Now()
	resp, err := e.opts.Requests.Execute(ctx, req)
	if resp == nil {
		resp = &Response{Duration: e.clock.Now().Sub(start)}
	}

	e.recordRequest(req, resp, err)
	return resp, err
}

func (e *Executor) recordRequest(req *Request, resp *Response, err error) {
	name := req.Name
	if name == "" {
		name = req.URL
		if i := strings.IndexAny(name, "?#"); i >= 0 {
			name = name[:i]
		}
	}
	m := e.opts.Tags.Map()
	for k, v := range req.Tags {
		m[k] = v
	}
	m["method"] = req.Method
	m["name"] = name
	m["status"] = strconv.Itoa(resp.Status)
	if err != nil {
		m["error"] = classify(err)
	}
	tags := metrics.NewTagSet(m)

	b := e.builtin
	_ = b.HTTPReqs.Add(1, tags)
	_ = b.HTTPReqDuration.Add(metrics.D(resp.Duration), tags)

	failed := 0.0
	if err != nil || !resp.OK() {
		failed = 1
	}
	_ = b.HTTPReqFailed.Add(failed, tags)

	if err == nil {
		_ = b.HTTPReqConnecting.Add(metrics.D(resp.Timings.Connecting), tags)
		_ = b.HTTPReqTLSHandshaking.Add(metrics.D(resp.Timings.TLSHandshaking), tags)
		_ = b.HTTPReqWaiting.Add(metrics.D(resp.Timings.Waiting), tags)
		_ = b.HTTPReqReceiving.Add(metrics.D(resp.Timings.Receiving), tags)
	}

	_ = b.DataReceived.Add(float64(len(resp.Body)), tags)
	sent := resp.BytesSent
	if sent == 0 {
		sent = int64(len(req.Body))
	}
	_ = b.DataSent.Add(float64(sent), tags)
}

func classify(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "request"
	}
}
