// Package main is the entry point for the jsbox MCP server.
//
// The jsbox server exposes the sandboxed JavaScript execution engine
// over the Model Context Protocol on stdio or HTTP transports, with an
// optional Prometheus metrics endpoint. Untrusted code runs inside an
// embedded VM behind a denylist pre-filter, a narrowed global scope and
// a sampling resource monitor.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
