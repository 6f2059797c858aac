// Package logging provides structured logging for the Reclaim client.
//
// This package wraps Go's standard log/slog package so that every component
// logs with the same format and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("controller connected", "device", id)
//	logger.Error("history write failed", "error", err)
//
// Never log certificate or key material, or InfluxDB tokens.
package logging
