package sandbox

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
)

// engine wraps one goja VM hardened for untrusted code. An engine is
// owned by exactly one backend goroutine; the only cross-goroutine
// entry points are interrupt and networkRequests, which are safe.
type engine struct {
	vm          *goja.Runtime
	client      *resty.Client
	consoleSink func(ConsoleEntry)
	netCalls    atomic.Int64
}

// newEngine provisions a fresh hardened VM. client performs the outbound
// calls of the fetch bridge; consoleSink receives forwarded log lines.
func newEngine(client *resty.Client, consoleSink func(ConsoleEntry)) (*engine, error) {
	e := &engine{
		vm:          goja.New(),
		client:      client,
		consoleSink: consoleSink,
	}
	e.vm.SetMaxCallStackSize(1024)

	if err := e.setupGlobals(); err != nil {
		return nil, err
	}

	// Async failures have no terminal message of their own; surface them
	// on the console stream instead of dropping them.
	e.vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		if op != goja.PromiseRejectionReject || e.consoleSink == nil {
			return
		}
		reason := "undefined"
		if v := p.Result(); v != nil {
			reason = v.String()
		}
		e.consoleSink(ConsoleEntry{Level: "error", Message: "unhandled rejection: " + reason, Time: time.Now()})
	})
	return e, nil
}

// setupGlobals narrows the global scope: dynamic evaluation and module
// loading throw, host objects are shadowed with undefined, timers are
// inert, console forwards to the controller and fetch is counted.
func (e *engine) setupGlobals() error {
	blocked := func(name string) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value {
			panic(e.vm.NewTypeError("%s is disabled in the sandbox", name))
		}
	}
	e.vm.Set("eval", blocked("eval"))
	e.vm.Set("Function", blocked("Function"))
	e.vm.Set("require", blocked("require"))
	e.vm.Set("importScripts", blocked("importScripts"))

	for _, name := range []string{
		"process", "module", "exports",
		"document", "window", "parent", "top",
		"navigator", "location",
		"localStorage", "sessionStorage", "indexedDB",
		"XMLHttpRequest", "WebSocket",
	} {
		e.vm.Set(name, goja.Undefined())
	}

	console := e.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(level, e.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := e.vm.Set("console", console); err != nil {
		return err
	}

	// Timers exist so code written against them still parses and runs,
	// but they never fire: the guest gets no scheduler.
	e.vm.Set("setTimeout", func(goja.FunctionCall) goja.Value {
		return e.vm.ToValue(0)
	})
	e.vm.Set("setInterval", func(goja.FunctionCall) goja.Value {
		return e.vm.ToValue(0)
	})
	e.vm.Set("clearTimeout", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	e.vm.Set("clearInterval", func(goja.FunctionCall) goja.Value { return goja.Undefined() })

	return e.vm.Set("fetch", e.fetch)
}

// makeConsoleFunc builds one console level forwarding to the sink.
func (e *engine) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for i, arg := range call.Arguments {
			if i > 0 {
				msg += " "
			}
			msg += arg.String()
		}
		if e.consoleSink != nil {
			e.consoleSink(ConsoleEntry{Level: level, Message: msg, Time: time.Now()})
		}
		return goja.Undefined()
	}
}

// fetch is the counted outbound-network bridge. The counter increments
// before the cap check, so the refused attempt is still recorded.
func (e *engine) fetch(call goja.FunctionCall) goja.Value {
	n := e.netCalls.Add(1)
	if n > NetworkRequestCap {
		panic(e.vm.ToValue(fmt.Sprintf("%s (%d calls)", msgNetworkLimit, NetworkRequestCap)))
	}
	if len(call.Arguments) == 0 {
		panic(e.vm.NewTypeError("fetch requires a URL"))
	}

	url := call.Arguments[0].String()
	resp, err := e.client.R().Get(url)
	if err != nil {
		panic(e.vm.ToValue(fmt.Sprintf("fetch failed: %v", err)))
	}

	result := e.vm.NewObject()
	result.Set("status", resp.StatusCode())
	result.Set("ok", resp.IsSuccess())
	result.Set("body", resp.String())
	return result
}

// setContext exposes the caller-supplied context values as the
// "context" global.
func (e *engine) setContext(values map[string]any) error {
	if values == nil {
		values = map[string]any{}
	}
	return e.vm.Set("context", values)
}

// run executes already-sanitized code. The text is compiled as a program
// first; if that fails to parse (e.g. a top-level return), it is
// compiled once more as a function body. No text is evaluated twice.
func (e *engine) run(code string) (goja.Value, error) {
	// A terminate that raced a finished run may have left a pending
	// interrupt on this fresh VM.
	e.vm.ClearInterrupt()

	prog, err := goja.Compile("sandbox", code, false)
	if err != nil {
		wrapped := "(function() {\n" + code + "\n})()"
		prog, err = goja.Compile("sandbox", wrapped, false)
		if err != nil {
			return nil, err
		}
	}
	return e.vm.RunProgram(prog)
}

// interrupt aborts the VM from another goroutine. The pending run
// returns an *goja.InterruptedError carrying reason.
func (e *engine) interrupt(reason string) {
	e.vm.Interrupt(reason)
}

// networkRequests reports the outbound calls recorded so far.
func (e *engine) networkRequests() int {
	return int(e.netCalls.Load())
}

// export converts a goja completion value to a plain Go value.
func export(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// describeError maps a goja error to the message/stack pair reported in
// the terminal error message.
func describeError(err error) (message, stack string) {
	switch ex := err.(type) {
	case *goja.InterruptedError:
		return fmt.Sprint(ex.Value()), ""
	case *goja.Exception:
		return ex.Value().String(), ex.String()
	default:
		return err.Error(), ""
	}
}
