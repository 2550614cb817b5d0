// Package logx wraps zerolog behind a small, swap-safe logging facade.
//
// Components receive a Logger value by injection; the Service owns the
// underlying sinks and can re-apply configuration at runtime without
// invalidating loggers that were handed out earlier.
package logx
