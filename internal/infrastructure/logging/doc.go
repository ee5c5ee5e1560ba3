// Package logging provides structured logging for the Flyport bridge.
//
// It wraps log/slog so every component logs with the same handler and the
// same default attributes (service, version).
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("poller").Info("board suspended", "board", addr)
//
// Board passwords and broker credentials must never be logged.
package logging
