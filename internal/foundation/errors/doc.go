// Package errors provides foundational, type-safe error primitives used across minderbuild.
//
// This package contains classified error types and helpers for robust error handling,
// including a fluent builder API for constructing ClassifiedError values with context.
//
// Key features:
//   - ErrorCategory: Broad error classification (config, parse, graph, bundle, filesystem, etc.)
//   - ErrorSeverity: Impact level (fatal, error, warning, info)
//   - RetryStrategy: Retry behavior (never, immediate, backoff)
//   - ClassifiedError: Structured error with category, severity, and context
//   - ErrorBuilder: Fluent API for creating classified errors
//   - CLI adapter mapping categories to process exit codes
//
// Example usage:
//
//	err := errors.WrapError(cause, errors.CategoryGraph, "dependency graph invalid").
//		WithContext("module", "editor").
//		WithContext("missing", "runtime/hotbox").
//		Build()
package errors
