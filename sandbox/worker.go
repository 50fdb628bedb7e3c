package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkerSandbox is the persistent isolation backend: a long-lived
// goroutine owns a hardened VM and receives execute messages over a
// channel. After every terminal outcome the VM is discarded and
// re-provisioned so no state leaks between calls.
type WorkerSandbox struct {
	logger *zap.Logger
	opts   options
	client *resty.Client

	mu        sync.Mutex
	limits    ResourceLimits
	executing bool
	closed    bool
	eng       *engine
	consoleCh chan ConsoleEntry
	provision provisionFunc

	mon   *monitor
	reqCh chan execRequest
	done  chan struct{}
}

// provisionFunc builds a fresh isolation context. Swapped out in tests.
type provisionFunc func(client *resty.Client, sink func(ConsoleEntry)) (*engine, error)

// NewWorkerSandbox provisions the isolation context and starts the
// worker goroutine. Zero fields of limits fall back to DefaultLimits.
func NewWorkerSandbox(logger *zap.Logger, limits ResourceLimits, opts ...Option) (*WorkerSandbox, error) {
	w := &WorkerSandbox{
		logger:    logger,
		opts:      newOptions(opts...),
		limits:    DefaultLimits().merge(limits),
		provision: newEngine,
		mon:       newMonitor(),
		reqCh:     make(chan execRequest, 1),
		done:      make(chan struct{}),
	}
	w.client = newFetchClient(w.opts)

	eng, err := w.provision(w.client, w.sink)
	if err != nil {
		return nil, err
	}
	w.eng = eng

	go w.serve()
	return w, nil
}

// sink forwards a console message from the isolation context to the
// controller of the active call. Messages are dropped, never blocked
// on, when the controller lags.
func (w *WorkerSandbox) sink(entry ConsoleEntry) {
	w.mu.Lock()
	ch := w.consoleCh
	w.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- entry:
	default:
	}
}

// serve is the worker loop: one execute message at a time, each
// followed by a context teardown and re-provision.
func (w *WorkerSandbox) serve() {
	defer close(w.done)
	for req := range w.reqCh {
		w.runOne(req)
	}
}

func (w *WorkerSandbox) runOne(req execRequest) {
	w.mu.Lock()
	eng := w.eng
	w.consoleCh = req.consoleCh
	w.mu.Unlock()

	if eng == nil {
		// Requests drained after a failed re-provision closed the
		// instance.
		req.resultCh <- terminalMsg{errMsg: ErrSandboxClosed.Error()}
		return
	}

	runRequest(eng, w.mon, w.opts.monitorInterval, req)

	w.mu.Lock()
	w.consoleCh = nil
	w.mu.Unlock()
	w.recycle()
}

// recycle replaces the isolation context so the next call starts from a
// clean slate. When re-provisioning fails the instance closes: a used
// context must never serve another call.
func (w *WorkerSandbox) recycle() {
	w.mu.Lock()
	provision := w.provision
	w.mu.Unlock()

	eng, err := provision(w.client, w.sink)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.logger.Error("failed to re-provision isolation context, closing instance", zap.Error(err))
		w.eng = nil
		if !w.closed {
			w.closed = true
			close(w.reqCh)
		}
		return
	}
	w.eng = eng
}

// ExecuteCode implements SecureSandbox. Code outcomes, including limit
// violations, come back as a non-error ExecutionResult; only protocol
// failures (busy instance, timeout, closed sandbox) are Go errors.
func (w *WorkerSandbox) ExecuteCode(ctx context.Context, code string, execCtx ExecutionContext) (ExecutionResult, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ExecutionResult{}, ErrSandboxClosed
	}
	if w.executing {
		w.mu.Unlock()
		return ExecutionResult{}, ErrExecutionInFlight
	}
	w.executing = true
	limits := effectiveLimits(w.limits, execCtx)
	sanitized, warnings := SanitizeReport(code)
	req := newExecRequest(uuid.NewString(), sanitized, execCtx.Values, limits)
	// The send must never block while holding the mutex: a full buffer
	// means the worker is still draining an abandoned run.
	select {
	case w.reqCh <- req:
	default:
		w.executing = false
		w.mu.Unlock()
		return ExecutionResult{}, ErrExecutionInFlight
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.executing = false
		w.mu.Unlock()
	}()

	w.logger.Debug("execution dispatched",
		zap.String("execution_id", req.id),
		zap.String("backend", BackendWorker),
		zap.Duration("timeout", limits.ExecutionTime))
	w.opts.collector.active(1)
	defer w.opts.collector.active(-1)

	// The in-context monitor aborts at the execution-time limit; the
	// controller timer is the backstop one sampling grace period later.
	res, err := awaitTerminal(ctx, req, backstop(limits, w.opts.monitorInterval), w.TerminateExecution)
	if err == nil {
		res.Warnings = warnings
	}
	w.record(req.id, res, err)
	return res, err
}

func (w *WorkerSandbox) record(id string, res ExecutionResult, err error) {
	switch {
	case err != nil && errors.Is(err, ErrExecutionTimeout):
		w.logger.Warn("execution timed out", zap.String("execution_id", id))
		w.opts.collector.observe(BackendWorker, statusTimeout, res.Metrics.ExecutionTime, res.Metrics.NetworkRequests)
	case err != nil:
		w.logger.Warn("execution aborted", zap.String("execution_id", id), zap.Error(err))
		w.opts.collector.observe(BackendWorker, statusError, res.Metrics.ExecutionTime, res.Metrics.NetworkRequests)
	case !res.Success:
		w.logger.Info("execution failed",
			zap.String("execution_id", id),
			zap.String("error", res.Error),
			zap.Duration("duration", res.Metrics.ExecutionTime))
		w.opts.collector.observe(BackendWorker, statusError, res.Metrics.ExecutionTime, res.Metrics.NetworkRequests)
	default:
		w.logger.Info("execution completed",
			zap.String("execution_id", id),
			zap.Duration("duration", res.Metrics.ExecutionTime),
			zap.Int("network_requests", res.Metrics.NetworkRequests))
		w.opts.collector.observe(BackendWorker, statusSuccess, res.Metrics.ExecutionTime, res.Metrics.NetworkRequests)
	}
}

// LimitResources implements SecureSandbox.
func (w *WorkerSandbox) LimitResources(limits ResourceLimits) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.limits = w.limits.merge(limits)
}

// MonitorExecution implements SecureSandbox.
func (w *WorkerSandbox) MonitorExecution() ExecutionMetrics {
	return w.mon.snapshot()
}

// TerminateExecution implements SecureSandbox. The worker re-provisions
// its context after the interrupted run returns, so the instance stays
// usable.
func (w *WorkerSandbox) TerminateExecution() {
	w.mu.Lock()
	eng := w.eng
	active := w.executing
	w.mu.Unlock()
	if active && eng != nil {
		eng.interrupt(msgTerminated)
	}
}

// Close implements SecureSandbox.
func (w *WorkerSandbox) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	eng := w.eng
	active := w.executing
	close(w.reqCh)
	w.mu.Unlock()

	if active && eng != nil {
		eng.interrupt(msgTerminated)
	}
	<-w.done
	return nil
}
