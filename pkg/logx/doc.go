// Package logx is pacer's structured logging: a small value-type Logger over
// zerolog with field helpers, plus a Service that owns the sinks and can be
// reconfigured while loggers derived from it stay valid.
//
// The zero Logger discards everything, so libraries can take one in their
// config without forcing callers to wire logging.
package logx
