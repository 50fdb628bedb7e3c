package sandbox

import (
	"runtime"
	"sync"
	"time"
)

// heapSampler reports current heap usage. Swapped out in tests.
type heapSampler func() int64

func sampleHeap() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc) //nolint:gosec // heap size fits int64
}

// monitor tracks one sandbox instance's execution metrics. It is shared
// between the controller (MonitorExecution snapshots) and the per-run
// watch loop, so all state is guarded by the mutex.
//
// Memory accounting is advisory: there is no per-VM meter, so the loop
// samples process heap growth since the run started. CPU usage is
// carried through for the caller but never populated in-process.
type monitor struct {
	mu       sync.Mutex
	sample   heapSampler
	start    time.Time
	baseline int64
	running  bool
	gen      int
	last     ExecutionMetrics
	netFn    func() int
}

func newMonitor() *monitor {
	return &monitor{sample: sampleHeap}
}

// begin marks the start of a run. netFn reports the run's outbound-call
// count for live snapshots. The returned generation guards finish
// against a run that was abandoned by a timed-out controller and
// completes after its successor already began.
func (m *monitor) begin(netFn func() int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = time.Now()
	m.baseline = m.sample()
	m.running = true
	m.gen++
	m.netFn = netFn
	m.last = ExecutionMetrics{}
	return m.gen
}

// watch re-checks elapsed time and sampled memory against limits every
// interval until stop closes, interrupting the run with a descriptive
// limit message on the first violation.
func (m *monitor) watch(limits ResourceLimits, interval time.Duration, interrupt func(string), stop <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			elapsed, used := m.observe()
			if limits.ExecutionTime > 0 && elapsed > limits.ExecutionTime {
				interrupt(msgTimeLimit)
				return
			}
			if limits.Memory > 0 && used > limits.Memory {
				interrupt(msgMemoryLimit)
				return
			}
		}
	}
}

// observe refreshes and returns the elapsed time and heap growth of the
// active run.
func (m *monitor) observe() (elapsed time.Duration, used int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return m.last.ExecutionTime, m.last.MemoryUsage
	}
	elapsed = time.Since(m.start)
	used = m.sample() - m.baseline
	if used < 0 {
		used = 0
	}
	m.last.ExecutionTime = elapsed
	m.last.MemoryUsage = used
	if m.netFn != nil {
		m.last.NetworkRequests = m.netFn()
	}
	return elapsed, used
}

// snapshot serves MonitorExecution: the live metrics of the in-flight
// run, or the frozen metrics of the last completed one.
func (m *monitor) snapshot() ExecutionMetrics {
	m.observe()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// finish freezes the metrics of run gen and returns them for the
// terminal message. A stale generation leaves the live state alone.
func (m *monitor) finish(gen, networkRequests int) ExecutionMetrics {
	m.observe()
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		metrics := m.last
		metrics.NetworkRequests = networkRequests
		return metrics
	}
	m.running = false
	m.netFn = nil
	m.last.NetworkRequests = networkRequests
	return m.last
}
