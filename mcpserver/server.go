// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// sandboxed JavaScript execution engine as tools. It uses the
// mark3labs/mcp-go library to handle the protocol details and provides
// execute_code as the primary interface, with configure_limits and
// execution_metrics for controlling and observing the engine.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/jsbox/config"
	"github.com/isdmx/jsbox/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	sandbox   sandbox.SecureSandbox
	collector *sandbox.Collector
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, sb sandbox.SecureSandbox, collector *sandbox.Collector) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		sandbox:   sb,
		collector: collector,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("server.metrics_port", cfg.Server.MetricsPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.Int("sandbox.timeout_ms", cfg.Sandbox.TimeoutMs),
		zap.Int("sandbox.monitor_interval_ms", cfg.Sandbox.MonitorIntervalMs),
		zap.Int64("sandbox.memory_bytes", cfg.Sandbox.MemoryBytes),
		zap.Int("sandbox.cpu_percent", cfg.Sandbox.CPUPercent),
		zap.Int64("sandbox.network_bytes", cfg.Sandbox.NetworkBytes),
		zap.Int64("sandbox.storage_bytes", cfg.Sandbox.StorageBytes),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("jsbox-executor", "A sandboxed JavaScript execution server")

	s.registerExecuteCodeTool()
	s.registerConfigureLimitsTool()
	s.registerExecutionMetricsTool()

	return s, nil
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute untrusted JavaScript in a sandboxed environment",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "JavaScript source to execute",
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"description": "Per-call execution timeout in milliseconds (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	execCtx := sandbox.ExecutionContext{}
	if timeoutMs := request.GetInt("timeout_ms", 0); timeoutMs > 0 {
		execCtx.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	s.logger.Info("code execution requested",
		zap.Int("code_len", len(code)),
		zap.Duration("timeout", execCtx.Timeout))

	result, err := s.sandbox.ExecuteCode(ctx, code, execCtx)
	if err != nil {
		// Protocol failures: busy instance, timeout, closed sandbox.
		s.logger.Warn("execution rejected", zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution rejected: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	s.logger.Info("code execution completed",
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.Metrics.ExecutionTime),
		zap.Int("network_requests", result.Metrics.NetworkRequests))

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(payload),
			},
		},
	}, nil
}

// registerConfigureLimitsTool registers the configure_limits tool
func (s *MCPServer) registerConfigureLimitsTool() {
	tool := mcp.Tool{
		Name:        "configure_limits",
		Description: "Overlay resource limits on the sandbox; omitted fields keep their current value",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"memory_bytes": map[string]any{
					"type":        "integer",
					"description": "Heap ceiling in bytes (-1 for unlimited)",
				},
				"cpu_percent": map[string]any{
					"type":        "integer",
					"description": "Advisory CPU ceiling in percent",
				},
				"network_bytes": map[string]any{
					"type":        "integer",
					"description": "Advisory network byte budget",
				},
				"storage_bytes": map[string]any{
					"type":        "integer",
					"description": "Advisory storage byte budget",
				},
				"execution_time_ms": map[string]any{
					"type":        "integer",
					"description": "Default execution-time ceiling in milliseconds",
				},
			},
		},
	}

	s.mcpServer.AddTool(tool, s.handleConfigureLimits)
}

// handleConfigureLimits handles the configure_limits tool
func (s *MCPServer) handleConfigureLimits(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limits := sandbox.ResourceLimits{
		Memory:       int64(request.GetInt("memory_bytes", 0)),
		CPUPercent:   request.GetInt("cpu_percent", 0),
		NetworkBytes: int64(request.GetInt("network_bytes", 0)),
		StorageBytes: int64(request.GetInt("storage_bytes", 0)),
	}
	if ms := request.GetInt("execution_time_ms", 0); ms != 0 {
		limits.ExecutionTime = time.Duration(ms) * time.Millisecond
	}

	s.sandbox.LimitResources(limits)
	s.logger.Info("resource limits updated",
		zap.Int64("memory_bytes", limits.Memory),
		zap.Int("cpu_percent", limits.CPUPercent),
		zap.Duration("execution_time", limits.ExecutionTime))

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "limits updated"},
		},
	}, nil
}

// registerExecutionMetricsTool registers the execution_metrics tool
func (s *MCPServer) registerExecutionMetricsTool() {
	tool := mcp.Tool{
		Name:        "execution_metrics",
		Description: "Snapshot of the sandbox execution metrics (live during an in-flight call)",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecutionMetrics)
}

// handleExecutionMetrics handles the execution_metrics tool
func (s *MCPServer) handleExecutionMetrics(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	metrics := s.sandbox.MonitorExecution()
	payload, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(payload)},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// ServeMetrics exposes the Prometheus registry when a metrics port is
// configured. Returns nil immediately when disabled.
func (s *MCPServer) ServeMetrics() error {
	port := s.config.Server.MetricsPort
	if port == 0 || s.collector == nil {
		return nil
	}
	s.logger.Info("starting metrics endpoint", zap.Int("port", port))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.collector.Registry, promhttp.HandlerOpts{}))

	err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux) //nolint:gosec // internal endpoint
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
