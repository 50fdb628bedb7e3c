package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEphemeral(t *testing.T, opts ...Option) *EphemeralSandbox {
	t.Helper()
	opts = append([]Option{WithMonitorInterval(20 * time.Millisecond)}, opts...)
	e, err := NewEphemeralSandbox(zaptest.NewLogger(t), ResourceLimits{}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEphemeralExecuteCode(t *testing.T) {
	e := newTestEphemeral(t)

	t.Run("TopLevelReturn", func(t *testing.T) {
		res, err := e.ExecuteCode(context.Background(), "return 1+1", ExecutionContext{})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.EqualValues(t, 2, res.Output)
	})

	t.Run("ApplicationError", func(t *testing.T) {
		res, err := e.ExecuteCode(context.Background(), `throw new Error("kaput")`, ExecutionContext{})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "kaput")
	})

	t.Run("ConsoleForwarded", func(t *testing.T) {
		res, err := e.ExecuteCode(context.Background(), `console.error("bad thing"); 1`, ExecutionContext{})
		require.NoError(t, err)
		require.Len(t, res.Console, 1)
		assert.Equal(t, "error", res.Console[0].Level)
		assert.Equal(t, "bad thing", res.Console[0].Message)
	})
}

func TestEphemeralDisposalIsReset(t *testing.T) {
	e := newTestEphemeral(t)

	res, err := e.ExecuteCode(context.Background(), "globalThis.leak = 99; leak", ExecutionContext{})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = e.ExecuteCode(context.Background(), "typeof leak", ExecutionContext{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "undefined", res.Output)
}

func TestEphemeralExecutionTimeLimit(t *testing.T) {
	e := newTestEphemeral(t)

	start := time.Now()
	res, err := e.ExecuteCode(context.Background(), "while(true){}", ExecutionContext{Timeout: 200 * time.Millisecond})
	if err != nil {
		require.ErrorIs(t, err, ErrExecutionTimeout)
	} else {
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "limit exceeded")
	}
	assert.Less(t, time.Since(start), time.Second)

	res, err = e.ExecuteCode(context.Background(), "return 5", ExecutionContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 5, res.Output)
}

func TestEphemeralRejectsConcurrentCall(t *testing.T) {
	e := newTestEphemeral(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.ExecuteCode(context.Background(), "while(true){}", ExecutionContext{Timeout: 300 * time.Millisecond})
	}()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executing
	}, 200*time.Millisecond, 5*time.Millisecond)

	_, err := e.ExecuteCode(context.Background(), "2", ExecutionContext{})
	require.ErrorIs(t, err, ErrExecutionInFlight)
	<-done
}

func TestEphemeralNetworkRequestCap(t *testing.T) {
	transport := &stubTransport{}
	e := newTestEphemeral(t, WithTransport(transport))

	res, err := e.ExecuteCode(context.Background(), `
		for (let i = 0; i < 11; i++) {
			fetch("http://api.test/ping");
		}
	`, ExecutionContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Network request limit exceeded")
	assert.Equal(t, NetworkRequestCap+1, res.Metrics.NetworkRequests)
}

func TestEphemeralClose(t *testing.T) {
	e, err := NewEphemeralSandbox(zaptest.NewLogger(t), ResourceLimits{})
	require.NoError(t, err)

	require.NoError(t, e.Close())
	_, err = e.ExecuteCode(context.Background(), "1", ExecutionContext{})
	require.ErrorIs(t, err, ErrSandboxClosed)
}
