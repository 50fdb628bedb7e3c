package sandbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures the first interrupt reason.
type recorder struct {
	mu     sync.Mutex
	reason string
}

func (r *recorder) interrupt(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" {
		r.reason = reason
	}
}

func (r *recorder) get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

func TestMonitorTimeViolation(t *testing.T) {
	m := newMonitor()
	m.begin(nil)

	rec := &recorder{}
	stop := make(chan struct{})
	defer close(stop)

	go m.watch(ResourceLimits{ExecutionTime: 30 * time.Millisecond}, 10*time.Millisecond, rec.interrupt, stop)

	require.Eventually(t, func() bool {
		return rec.get() != ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, msgTimeLimit, rec.get())
}

func TestMonitorMemoryViolation(t *testing.T) {
	m := newMonitor()

	var grown bool
	m.sample = func() int64 {
		if grown {
			return 10 * 1024 * 1024
		}
		return 0
	}
	m.begin(nil)
	grown = true

	rec := &recorder{}
	stop := make(chan struct{})
	defer close(stop)

	go m.watch(ResourceLimits{Memory: 1024 * 1024, ExecutionTime: time.Minute}, 10*time.Millisecond, rec.interrupt, stop)

	require.Eventually(t, func() bool {
		return rec.get() != ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, msgMemoryLimit, rec.get())
}

func TestMonitorNoViolationWithinLimits(t *testing.T) {
	m := newMonitor()
	m.begin(nil)

	rec := &recorder{}
	stop := make(chan struct{})
	go m.watch(ResourceLimits{ExecutionTime: time.Minute, Memory: Unlimited}, 10*time.Millisecond, rec.interrupt, stop)

	time.Sleep(60 * time.Millisecond)
	close(stop)
	assert.Empty(t, rec.get())
}

func TestMonitorSnapshot(t *testing.T) {
	m := newMonitor()

	assert.Zero(t, m.snapshot(), "fresh monitor reports zero metrics")

	calls := 3
	gen := m.begin(func() int { return calls })
	time.Sleep(10 * time.Millisecond)

	snap := m.snapshot()
	assert.Greater(t, snap.ExecutionTime, time.Duration(0))
	assert.Equal(t, 3, snap.NetworkRequests)

	frozen := m.finish(gen, 5)
	assert.Equal(t, 5, frozen.NetworkRequests)

	// After finish the snapshot is frozen.
	later := m.snapshot()
	assert.Equal(t, frozen.ExecutionTime, later.ExecutionTime)
}

func TestMonitorStaleFinishKeepsSuccessorLive(t *testing.T) {
	m := newMonitor()

	old := m.begin(nil)
	m.begin(nil)

	m.finish(old, 2)
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	assert.True(t, running, "a stale finish must not stop the active run")
}
