// Package logger provides structured logging for ragflow using zerolog.
//
// It supports JSON and console output, log level configuration, and
// component-scoped loggers with structured fields. Pipeline code tags
// every record with the run it belongs to via WithRun.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("vector_search")
//	log.Info("search complete", logger.Fields("hits", 12))
package logger
