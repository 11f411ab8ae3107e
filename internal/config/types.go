package config

import "strings"

// NormalizeStepType canonicalizes a step type string (case-insensitive) or returns empty if unknown.
func NormalizeStepType(raw string) StepType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StepTemplates):
		return StepTemplates
	case string(StepCopy):
		return StepCopy
	case string(StepClean):
		return StepClean
	case string(StepCommand), "exec":
		return StepCommand
	default:
		return ""
	}
}

// NormalizeStepPhase canonicalizes a phase string or returns empty if unknown.
func NormalizeStepPhase(raw string) StepPhase {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(PhasePost), "after":
		return PhasePost
	case string(PhasePre), "before":
		return PhasePre
	default:
		return ""
	}
}

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// NormalizeLogLevel returns a canonical level or empty string if unknown.
func NormalizeLogLevel(raw string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogLevelDebug):
		return LogLevelDebug
	case string(LogLevelInfo):
		return LogLevelInfo
	case string(LogLevelWarn), "warning":
		return LogLevelWarn
	case string(LogLevelError):
		return LogLevelError
	default:
		return ""
	}
}
