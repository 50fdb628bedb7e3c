package sandbox

import (
	"context"
	"errors"
	"time"
)

// Unlimited disables a resource ceiling when set explicitly.
const Unlimited int64 = -1

// DefaultTimeout applies when neither the execution context nor the
// configured limits carry a timeout.
const DefaultTimeout = 30 * time.Second

// NetworkRequestCap is the fixed number of outbound calls a single
// execution may issue before the fetch bridge starts refusing.
const NetworkRequestCap = 10

// DefaultMonitorInterval is the sampling period of the in-flight monitor.
const DefaultMonitorInterval = 100 * time.Millisecond

// ResourceLimits holds the ceilings applied to a run. A zero value in a
// patch passed to LimitResources leaves the current setting untouched;
// Unlimited disables the ceiling. CPUPercent, NetworkBytes and
// StorageBytes are advisory and reported rather than enforced.
type ResourceLimits struct {
	Memory        int64         `json:"memory"`
	CPUPercent    int           `json:"cpu_percent"`
	NetworkBytes  int64         `json:"network_bytes"`
	StorageBytes  int64         `json:"storage_bytes"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		Memory:        256 * 1024 * 1024,
		CPUPercent:    80,
		NetworkBytes:  10 * 1024 * 1024,
		StorageBytes:  50 * 1024 * 1024,
		ExecutionTime: DefaultTimeout,
	}
}

// merge overlays the non-zero fields of patch onto l.
func (l ResourceLimits) merge(patch ResourceLimits) ResourceLimits {
	if patch.Memory != 0 {
		l.Memory = patch.Memory
	}
	if patch.CPUPercent != 0 {
		l.CPUPercent = patch.CPUPercent
	}
	if patch.NetworkBytes != 0 {
		l.NetworkBytes = patch.NetworkBytes
	}
	if patch.StorageBytes != 0 {
		l.StorageBytes = patch.StorageBytes
	}
	if patch.ExecutionTime != 0 {
		l.ExecutionTime = patch.ExecutionTime
	}
	return l
}

// ExecutionContext is the caller-supplied per-call input. Values are
// exposed to the executed code as the read-only "context" global.
type ExecutionContext struct {
	Timeout time.Duration  `json:"timeout"`
	Values  map[string]any `json:"values,omitempty"`
}

// ExecutionMetrics is the observed behavior of one run. During execution
// it is served as a live snapshot by MonitorExecution; the terminal
// ExecutionResult carries the frozen final value.
type ExecutionMetrics struct {
	ExecutionTime   time.Duration `json:"execution_time"`
	MemoryUsage     int64         `json:"memory_usage"`
	CPUUsage        float64       `json:"cpu_usage"`
	NetworkRequests int           `json:"network_requests"`
}

// ConsoleEntry is one log line emitted by the executed code.
type ConsoleEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ExecutionResult is the terminal outcome of one ExecuteCode call.
// Failures originating from the executed code (thrown errors, limit
// violations) are reported here with Success false; only protocol
// failures surface as Go errors.
type ExecutionResult struct {
	Success  bool             `json:"success"`
	Output   any              `json:"output,omitempty"`
	Error    string           `json:"error,omitempty"`
	Stack    string           `json:"stack,omitempty"`
	Console  []ConsoleEntry   `json:"console,omitempty"`
	Metrics  ExecutionMetrics `json:"metrics"`
	Warnings []string         `json:"warnings,omitempty"`
}

// SecureSandbox is the capability set every isolation backend implements.
// An instance runs at most one execution at a time; a second concurrent
// ExecuteCode call is rejected with ErrExecutionInFlight rather than
// queued.
type SecureSandbox interface {
	// ExecuteCode sanitizes code, runs it in the isolation context under
	// the merged resource limits and returns the terminal result.
	ExecuteCode(ctx context.Context, code string, execCtx ExecutionContext) (ExecutionResult, error)

	// LimitResources overlays the non-zero fields of limits onto the
	// instance's active configuration.
	LimitResources(limits ResourceLimits)

	// MonitorExecution returns a metrics snapshot, reflecting in-flight
	// elapsed time when a call is active.
	MonitorExecution() ExecutionMetrics

	// TerminateExecution forcibly aborts the active run, if any. The
	// instance remains usable afterwards.
	TerminateExecution()

	// Close releases the isolation context. The instance rejects all
	// calls afterwards.
	Close() error
}

var (
	// ErrExecutionInFlight is returned when ExecuteCode is called while
	// another execution is active on the same instance.
	ErrExecutionInFlight = errors.New("execution already in flight")

	// ErrExecutionTimeout is returned when the controller-side timer
	// fires before a terminal message arrives.
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrSandboxClosed is returned by all operations after Close.
	ErrSandboxClosed = errors.New("sandbox is closed")

	// ErrUnsupportedBackend is returned by New for unknown backend names.
	ErrUnsupportedBackend = errors.New("unsupported sandbox backend")
)

// Backend names accepted by New.
const (
	BackendWorker    = "worker"
	BackendEphemeral = "ephemeral"
)

// Limit-violation messages emitted by the monitor and the fetch bridge.
const (
	msgTimeLimit    = "Execution time limit exceeded"
	msgMemoryLimit  = "Memory limit exceeded"
	msgNetworkLimit = "Network request limit exceeded"
	msgTerminated   = "Execution terminated"
)
