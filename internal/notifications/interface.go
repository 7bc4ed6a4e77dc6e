// Package notifications delivers operator alerts for events that need a
// human: breaker breaches, exhausted routes, lockdowns.
package notifications

// Level grades an alert for the operator channel.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Notifier delivers operator alerts. Implementations must be safe for
// concurrent use; the proposal path and the unwind path both send.
type Notifier interface {
	SendAlert(level Level, message string) error
}
