package sandbox

import (
	"fmt"

	"go.uber.org/zap"
)

// New constructs the isolation backend named by backend, exposing it
// through the SecureSandbox contract. The worker backend is preferred
// and is the default for an empty name; callers on hosts where a
// persistent context is undesirable select the single-use ephemeral
// variant instead. There is no package-level default instance: callers
// share an instance by injecting it.
func New(logger *zap.Logger, limits ResourceLimits, backend string, opts ...Option) (SecureSandbox, error) {
	switch backend {
	case BackendWorker, "":
		return NewWorkerSandbox(logger, limits, opts...)
	case BackendEphemeral:
		return NewEphemeralSandbox(logger, limits, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
	}
}
