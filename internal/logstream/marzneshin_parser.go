package logstream

import (
	"regexp"

	"github.com/firasghr/xrayguard/internal/model"
)

// accessLogPattern matches a single xray-core access log line such as:
//
//	2026/07/31 10:15:02 from 203.0.113.4:51514 accepted tcp:example.com:443 [inbound-1 >> direct] email: alice.1
//
// Only the pieces the detector cares about are captured: the inbound tag,
// the connecting IP, and the email tag xray stamps onto the line when the
// inbound has user-level stats enabled. Lines that don't carry an email tag
// (system traffic, non-proxied connections) don't match and are dropped.
var accessLogPattern = regexp.MustCompile(`from (?:\[?([0-9a-fA-F.:]+)\]?):\d+ accepted \S+ \[([^\]\s>]+)(?: >> [^\]]+)?\]\s*email:\s*(\S+)`)

// MarzneshinParser implements Parser against the xray access log lines a
// marzneshin node streams over its log websocket. It has no state and is
// safe to share across every Subscriber in the fleet.
type MarzneshinParser struct{}

// NewMarzneshinParser returns a stateless Parser for marzneshin-flavored
// nodes.
func NewMarzneshinParser() MarzneshinParser { return MarzneshinParser{} }

// ParseLogToUser extracts a user observation from a single xray access log
// line. A line with no email tag isn't a user event and yields (nil, nil).
func (MarzneshinParser) ParseLogToUser(frame string) (*model.Observation, error) {
	m := accessLogPattern.FindStringSubmatch(frame)
	if m == nil {
		return nil, nil
	}
	ip, inbound, email := m[1], m[2], m[3]
	if ip == "" || email == "" {
		return nil, nil
	}
	return &model.Observation{
		Name:    email,
		IP:      ip,
		Inbound: inbound,
	}, nil
}
