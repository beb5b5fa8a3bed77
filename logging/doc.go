// Package logging provides a minimal logging interface and adapters for turnstream.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the engine uses for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - Setup/NewHandler building tint (console) or JSON handlers
//   - TurnLogger adding session/turn identifiers and tool/model helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.Setup("info", "text")
//	svc := service.New(func(o *service.Options) { o.Logger = logger })
package logging
