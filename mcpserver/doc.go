// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes
// the sandboxed JavaScript execution engine over stdio or streamable
// HTTP. Three tools are registered: execute_code runs untrusted code
// and returns the structured execution result, configure_limits
// overlays resource limits on the shared sandbox instance, and
// execution_metrics reports the live metrics snapshot.
package mcpserver
