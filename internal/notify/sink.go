// Package notify implements the notification sink collaborator described in
// spec.md §6: "notify(message) and notify_with_action(message,
// action={label, callback_data})... Delivery is best-effort and asynchronous;
// failures are logged and do not affect enforcement."
package notify

import (
	"github.com/firasghr/xrayguard/internal/logger"
)

// Action is a structured reply action attached to a notification, modeled on
// the reference implementation's Telegram "Unban IP" inline keyboard button.
// The concrete delivery channel is out of scope; Action only carries the
// shape a channel would need.
type Action struct {
	Label        string
	CallbackData string
}

// Sink delivers operator-facing notifications. Implementations must not
// block the caller for long and must never let a delivery failure propagate
// back into the enforcement pipeline.
type Sink interface {
	// Notify delivers a plain message, best-effort.
	Notify(message string)
	// NotifyWithAction delivers a message carrying a reply action, best-effort.
	NotifyWithAction(message string, action Action)
}

// LoggingSink is a Sink that only writes to the application log. It is
// always present — even when a richer sink (e.g. an admin dashboard feed) is
// also wired — so that notifications are never silently lost.
type LoggingSink struct {
	log *logger.Logger
}

// NewLoggingSink builds a LoggingSink.
func NewLoggingSink(log *logger.Logger) *LoggingSink {
	return &LoggingSink{log: log}
}

// Notify logs message at WARN level; notifications are operator-facing
// signals, not routine INFO traffic.
func (s *LoggingSink) Notify(message string) {
	s.log.Warn(message)
}

// NotifyWithAction logs message along with the action's label so an operator
// reading the log still sees what the action would have offered.
func (s *LoggingSink) NotifyWithAction(message string, action Action) {
	s.log.Warnf("%s [action: %s]", message, action.Label)
}
