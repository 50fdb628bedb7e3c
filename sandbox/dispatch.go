package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// terminalMsg is the single success/error message that ends one
// execution dispatch.
type terminalMsg struct {
	success bool
	output  any
	errMsg  string
	stack   string
	metrics ExecutionMetrics
}

// execRequest is the execute message sent from the controller into the
// isolation context. resultCh is buffered so the context never blocks
// on a controller that already timed out; consoleCh carries the
// non-terminal console messages.
type execRequest struct {
	id        string
	code      string
	values    map[string]any
	limits    ResourceLimits
	resultCh  chan terminalMsg
	consoleCh chan ConsoleEntry
}

// newExecRequest builds the dispatch message for sanitized code.
func newExecRequest(id, code string, values map[string]any, limits ResourceLimits) execRequest {
	return execRequest{
		id:        id,
		code:      code,
		values:    values,
		limits:    limits,
		resultCh:  make(chan terminalMsg, 1),
		consoleCh: make(chan ConsoleEntry, 64),
	}
}

// awaitTerminal races the terminal message against the controller-side
// timer and the caller's context, collecting console messages along the
// way. The timer and context branches invoke terminate before returning
// a protocol error; code outcomes always arrive as a non-error result.
func awaitTerminal(ctx context.Context, req execRequest, timeout time.Duration, terminate func()) (ExecutionResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var console []ConsoleEntry
	for {
		select {
		case entry := <-req.consoleCh:
			console = append(console, entry)
		case msg := <-req.resultCh:
			console = append(console, drainConsole(req.consoleCh)...)
			return ExecutionResult{
				Success: msg.success,
				Output:  msg.output,
				Error:   msg.errMsg,
				Stack:   msg.stack,
				Console: console,
				Metrics: msg.metrics,
			}, nil
		case <-timer.C:
			terminate()
			return ExecutionResult{}, fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)
		case <-ctx.Done():
			terminate()
			return ExecutionResult{}, ctx.Err()
		}
	}
}

func drainConsole(ch <-chan ConsoleEntry) []ConsoleEntry {
	var entries []ConsoleEntry
	for {
		select {
		case entry := <-ch:
			entries = append(entries, entry)
		default:
			return entries
		}
	}
}

// runRequest executes one dispatched request on eng: it starts the
// monitor watch loop, runs the code and emits exactly one terminal
// message. Shared by both isolation backends.
func runRequest(eng *engine, mon *monitor, interval time.Duration, req execRequest) {
	msg := terminalMsg{}

	if err := eng.setContext(req.values); err != nil {
		msg.errMsg = err.Error()
		req.resultCh <- msg
		return
	}

	gen := mon.begin(eng.networkRequests)
	stop := make(chan struct{})
	go mon.watch(req.limits, interval, eng.interrupt, stop)

	val, err := eng.run(req.code)
	close(stop)

	msg.metrics = mon.finish(gen, eng.networkRequests())
	if err != nil {
		msg.errMsg, msg.stack = describeError(err)
	} else {
		msg.success = true
		msg.output = export(val)
	}
	req.resultCh <- msg
}

// options carries the backend knobs shared by both variants.
type options struct {
	monitorInterval time.Duration
	fetchTimeout    time.Duration
	transport       http.RoundTripper
	collector       *Collector
}

// Option configures a sandbox backend.
type Option func(*options)

// WithMonitorInterval overrides the sampling period of the in-flight
// monitor.
func WithMonitorInterval(interval time.Duration) Option {
	return func(o *options) {
		o.monitorInterval = interval
	}
}

// WithTransport sets the HTTP transport used by the fetch bridge.
// Intended for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithFetchTimeout bounds each outbound call made by the fetch bridge.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.fetchTimeout = timeout
	}
}

// WithCollector attaches Prometheus collectors to the backend.
func WithCollector(c *Collector) Option {
	return func(o *options) {
		o.collector = c
	}
}

func newOptions(opts ...Option) options {
	o := options{
		monitorInterval: DefaultMonitorInterval,
		fetchTimeout:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newFetchClient builds the resty client backing the fetch bridge.
func newFetchClient(o options) *resty.Client {
	client := resty.New().SetTimeout(o.fetchTimeout)
	if o.transport != nil {
		client.SetTransport(o.transport)
	}
	return client
}

// maxBackstop bounds the dispatch select when the execution-time
// ceiling is disabled.
const maxBackstop = 24 * time.Hour

// effectiveLimits merges the per-call timeout override onto the active
// limits. A zero execution time falls back to DefaultTimeout; a
// negative one (the Unlimited sentinel) is preserved, which disables
// the monitor's time check.
func effectiveLimits(limits ResourceLimits, execCtx ExecutionContext) ResourceLimits {
	if execCtx.Timeout > 0 {
		limits.ExecutionTime = execCtx.Timeout
	}
	if limits.ExecutionTime == 0 {
		limits.ExecutionTime = DefaultTimeout
	}
	return limits
}

// backstop is the controller-side timer for one dispatch: the execution
// time ceiling plus two sampling periods of grace, or maxBackstop when
// the ceiling is disabled.
func backstop(limits ResourceLimits, interval time.Duration) time.Duration {
	if limits.ExecutionTime < 0 {
		return maxBackstop
	}
	return limits.ExecutionTime + 2*interval
}
