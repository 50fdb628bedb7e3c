package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EphemeralSandbox is the fallback isolation backend: every call gets a
// single-use VM that is created, run and discarded. Disposal is the
// reset, so no teardown step exists between calls.
type EphemeralSandbox struct {
	logger *zap.Logger
	opts   options
	client *resty.Client

	mu        sync.Mutex
	limits    ResourceLimits
	executing bool
	closed    bool
	eng       *engine

	mon *monitor
}

// NewEphemeralSandbox builds the single-use backend. Zero fields of
// limits fall back to DefaultLimits.
func NewEphemeralSandbox(logger *zap.Logger, limits ResourceLimits, opts ...Option) (*EphemeralSandbox, error) {
	e := &EphemeralSandbox{
		logger: logger,
		opts:   newOptions(opts...),
		limits: DefaultLimits().merge(limits),
		mon:    newMonitor(),
	}
	e.client = newFetchClient(e.opts)
	return e, nil
}

// ExecuteCode implements SecureSandbox with the same contract as the
// worker backend, but on a disposable context.
func (e *EphemeralSandbox) ExecuteCode(ctx context.Context, code string, execCtx ExecutionContext) (ExecutionResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ExecutionResult{}, ErrSandboxClosed
	}
	if e.executing {
		e.mu.Unlock()
		return ExecutionResult{}, ErrExecutionInFlight
	}
	e.executing = true
	limits := effectiveLimits(e.limits, execCtx)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.executing = false
		e.eng = nil
		e.mu.Unlock()
	}()

	sanitized, warnings := SanitizeReport(code)
	req := newExecRequest(uuid.NewString(), sanitized, execCtx.Values, limits)

	eng, err := newEngine(e.client, func(entry ConsoleEntry) {
		select {
		case req.consoleCh <- entry:
		default:
		}
	})
	if err != nil {
		return ExecutionResult{}, err
	}
	e.mu.Lock()
	e.eng = eng
	e.mu.Unlock()

	e.logger.Debug("execution dispatched",
		zap.String("execution_id", req.id),
		zap.String("backend", BackendEphemeral),
		zap.Duration("timeout", limits.ExecutionTime))
	e.opts.collector.active(1)
	defer e.opts.collector.active(-1)

	go runRequest(eng, e.mon, e.opts.monitorInterval, req)

	res, err := awaitTerminal(ctx, req, backstop(limits, e.opts.monitorInterval), e.TerminateExecution)
	if err == nil {
		res.Warnings = warnings
	}
	e.record(req.id, res, err)
	return res, err
}

func (e *EphemeralSandbox) record(id string, res ExecutionResult, err error) {
	switch {
	case err != nil && errors.Is(err, ErrExecutionTimeout):
		e.logger.Warn("execution timed out", zap.String("execution_id", id))
		e.opts.collector.observe(BackendEphemeral, statusTimeout, res.Metrics.ExecutionTime, res.Metrics.NetworkRequests)
	case err != nil:
		e.logger.Warn("execution aborted", zap.String("execution_id", id), zap.Error(err))
		e.opts.collector.observe(BackendEphemeral, statusError, res.Metrics.ExecutionTime, res.Metrics.NetworkRequests)
	case !res.Success:
		e.logger.Info("execution failed",
			zap.String("execution_id", id),
			zap.String("error", res.Error),
			zap.Duration("duration", res.Metrics.ExecutionTime))
		e.opts.collector.observe(BackendEphemeral, statusError, res.Metrics.ExecutionTime, res.Metrics.NetworkRequests)
	default:
		e.logger.Info("execution completed",
			zap.String("execution_id", id),
			zap.Duration("duration", res.Metrics.ExecutionTime),
			zap.Int("network_requests", res.Metrics.NetworkRequests))
		e.opts.collector.observe(BackendEphemeral, statusSuccess, res.Metrics.ExecutionTime, res.Metrics.NetworkRequests)
	}
}

// LimitResources implements SecureSandbox.
func (e *EphemeralSandbox) LimitResources(limits ResourceLimits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = e.limits.merge(limits)
}

// MonitorExecution implements SecureSandbox.
func (e *EphemeralSandbox) MonitorExecution() ExecutionMetrics {
	return e.mon.snapshot()
}

// TerminateExecution implements SecureSandbox. Interrupting the
// disposable context is all the cleanup there is.
func (e *EphemeralSandbox) TerminateExecution() {
	e.mu.Lock()
	eng := e.eng
	e.mu.Unlock()
	if eng != nil {
		eng.interrupt(msgTerminated)
	}
}

// Close implements SecureSandbox.
func (e *EphemeralSandbox) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.eng != nil {
		e.eng.interrupt(msgTerminated)
	}
	return nil
}
