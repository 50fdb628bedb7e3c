// Package main is the entry point for the jsbox MCP server.
//
// The jsbox server implements a secure, configurable Model Context Protocol
// (MCP) server that executes untrusted JavaScript inside an embedded,
// resource-limited VM. The server supports both stdio and HTTP transports
// and reports structured execution results including console output and
// per-run metrics.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/jsbox/config"
	"github.com/isdmx/jsbox/logger"
	"github.com/isdmx/jsbox/mcpserver"
	"github.com/isdmx/jsbox/sandbox"
)

// newSandbox wires the configured isolation backend with its limits and
// collectors.
func newSandbox(cfg *config.Config, log *zap.Logger, collector *sandbox.Collector) (sandbox.SecureSandbox, error) {
	limits := sandbox.ResourceLimits{
		Memory:        cfg.Sandbox.MemoryBytes,
		CPUPercent:    cfg.Sandbox.CPUPercent,
		NetworkBytes:  cfg.Sandbox.NetworkBytes,
		StorageBytes:  cfg.Sandbox.StorageBytes,
		ExecutionTime: cfg.Timeout(),
	}
	return sandbox.New(log, limits, cfg.Sandbox.Backend,
		sandbox.WithMonitorInterval(cfg.MonitorInterval()),
		sandbox.WithFetchTimeout(cfg.FetchTimeout()),
		sandbox.WithCollector(collector),
	)
}

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Prometheus collectors
			sandbox.NewCollector,

			// Sandbox backend based on config
			newSandbox,

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				go func() {
					if err := server.ServeMetrics(); err != nil {
						panic(err)
					}
				}()

				switch cfg.Server.Transport {
				case "stdio":
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
