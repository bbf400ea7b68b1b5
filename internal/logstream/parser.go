package logstream

import "github.com/firasghr/xrayguard/internal/model"

// Parser turns a single raw log frame into a user observation. Per spec.md
// §6, the source parsers are panel-specific and not specified here; Parser
// is the collaborator contract C2 calls against. A nil *model.Observation
// with a nil error means "not every log line is a user event" (spec.md §7)
// and the frame is silently dropped.
type Parser interface {
	ParseLogToUser(frame string) (*model.Observation, error)
}

// ParserFunc adapts a plain function to the Parser interface.
type ParserFunc func(frame string) (*model.Observation, error)

// ParseLogToUser calls f.
func (f ParserFunc) ParseLogToUser(frame string) (*model.Observation, error) {
	return f(frame)
}
