package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/jsbox/config"
	"github.com/isdmx/jsbox/sandbox"
)

// MockSandbox implements sandbox.SecureSandbox for testing
type MockSandbox struct {
	executeResult sandbox.ExecutionResult
	executeError  error
	lastCode      string
	lastContext   sandbox.ExecutionContext
	limits        sandbox.ResourceLimits
	metrics       sandbox.ExecutionMetrics
	terminated    bool
}

func (m *MockSandbox) ExecuteCode(_ context.Context, code string, execCtx sandbox.ExecutionContext) (sandbox.ExecutionResult, error) {
	m.lastCode = code
	m.lastContext = execCtx
	return m.executeResult, m.executeError
}

func (m *MockSandbox) LimitResources(limits sandbox.ResourceLimits) { m.limits = limits }
func (m *MockSandbox) MonitorExecution() sandbox.ExecutionMetrics   { return m.metrics }
func (m *MockSandbox) TerminateExecution()                          { m.terminated = true }
func (m *MockSandbox) Close() error                                 { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Logging: config.LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Sandbox: config.SandboxConfig{
			Backend:           "worker",
			TimeoutMs:         30000,
			MonitorIntervalMs: 100,
			MemoryBytes:       256 * 1024 * 1024,
			CPUPercent:        80,
			NetworkBytes:      10 * 1024 * 1024,
			StorageBytes:      50 * 1024 * 1024,
		},
	}
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	mock := &MockSandbox{}

	srv, err := New(cfg, logger, mock, nil)
	require.NoError(t, err)
	require.NotNil(t, srv)
	assert.Equal(t, cfg, srv.config)
	assert.Equal(t, logger, srv.logger)
	assert.Equal(t, mock, srv.sandbox)
	assert.NotNil(t, srv.GetMCPServer())
}

func TestHandleExecuteCode(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Success", func(t *testing.T) {
		mock := &MockSandbox{
			executeResult: sandbox.ExecutionResult{
				Success: true,
				Output:  float64(2),
				Metrics: sandbox.ExecutionMetrics{ExecutionTime: 5 * time.Millisecond},
			},
		}
		srv, err := New(testConfig(), logger, mock, nil)
		require.NoError(t, err)

		res, err := srv.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
			"code":       "return 1+1",
			"timeout_ms": float64(2000),
		}))
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.False(t, res.IsError)

		assert.Equal(t, "return 1+1", mock.lastCode)
		assert.Equal(t, 2*time.Second, mock.lastContext.Timeout)

		text, ok := res.Content[0].(mcp.TextContent)
		require.True(t, ok)
		var decoded sandbox.ExecutionResult
		require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
		assert.True(t, decoded.Success)
	})

	t.Run("MissingCode", func(t *testing.T) {
		srv, err := New(testConfig(), logger, &MockSandbox{}, nil)
		require.NoError(t, err)

		_, err = srv.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{}))
		require.Error(t, err)
	})

	t.Run("ProtocolFailureIsToolError", func(t *testing.T) {
		mock := &MockSandbox{executeError: sandbox.ErrExecutionInFlight}
		srv, err := New(testConfig(), logger, mock, nil)
		require.NoError(t, err)

		res, err := srv.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
			"code": "1",
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("CodeFailureIsPlainResult", func(t *testing.T) {
		mock := &MockSandbox{
			executeResult: sandbox.ExecutionResult{Success: false, Error: "boom"},
		}
		srv, err := New(testConfig(), logger, mock, nil)
		require.NoError(t, err)

		res, err := srv.handleExecuteCode(context.Background(), callRequest("execute_code", map[string]any{
			"code": `throw new Error("boom")`,
		}))
		require.NoError(t, err)
		assert.False(t, res.IsError, "code failures are structured results, not tool errors")
	})
}

func TestHandleConfigureLimits(t *testing.T) {
	mock := &MockSandbox{}
	srv, err := New(testConfig(), zaptest.NewLogger(t), mock, nil)
	require.NoError(t, err)

	_, err = srv.handleConfigureLimits(context.Background(), callRequest("configure_limits", map[string]any{
		"memory_bytes":      float64(1024),
		"execution_time_ms": float64(500),
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 1024, mock.limits.Memory)
	assert.Equal(t, 500*time.Millisecond, mock.limits.ExecutionTime)
	assert.Zero(t, mock.limits.CPUPercent, "omitted fields stay zero so the merge keeps current values")
}

func TestHandleExecutionMetrics(t *testing.T) {
	mock := &MockSandbox{
		metrics: sandbox.ExecutionMetrics{NetworkRequests: 4},
	}
	srv, err := New(testConfig(), zaptest.NewLogger(t), mock, nil)
	require.NoError(t, err)

	res, err := srv.handleExecutionMetrics(context.Background(), callRequest("execution_metrics", nil))
	require.NoError(t, err)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var decoded sandbox.ExecutionMetrics
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	assert.Equal(t, 4, decoded.NetworkRequests)
}

func TestServeMetricsDisabled(t *testing.T) {
	srv, err := New(testConfig(), zaptest.NewLogger(t), &MockSandbox{}, nil)
	require.NoError(t, err)
	require.NoError(t, srv.ServeMetrics(), "metrics endpoint is off when no port is configured")
}
