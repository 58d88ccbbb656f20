// Package logger sets up the process-wide JSON slog logger and carries
// scoped loggers through context.Context.
//
// HTTP handlers receive a logger tagged with the trace id; the dispatcher
// tags its logger with the batch id before handing the context to the store
// and the generator, which log through FromContextOr.
package logger
