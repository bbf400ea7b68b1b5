// Package model holds the data types shared across the ingest-and-enforce
// pipeline: nodes, the panel session, log observations, and resolved limits.
package model

import "time"

// Node is a single Xray proxy worker whose log stream is subscribed to.
// Nodes are created by the panel client from the control panel's node list
// and live until the fleet supervisor retires them on the next refresh.
type Node struct {
	ID      int
	Name    string
	Address string
	Port    int
	Status  string
	Message string
}

// PanelSession holds the credentials and bearer token used to talk to the
// control panel. Token is populated on first successful authentication and
// cleared whenever an authenticated request receives a 401; reauthentication
// is lazy — it happens on the next operation that needs a token.
type PanelSession struct {
	Username string
	Password string
	Domain   string
	Token    string
}

// HasToken reports whether the session currently holds a (assumed valid)
// bearer token.
func (s *PanelSession) HasToken() bool { return s.Token != "" }

// ClearToken drops the current token, forcing the next operation to
// reauthenticate.
func (s *PanelSession) ClearToken() { s.Token = "" }

// Observation is a single parsed log line lifted to a typed record — one
// (user, ip, node, inbound) tuple observed at a moment in time. Observations
// are immutable after creation.
type Observation struct {
	Name     string
	IP       string
	Node     string
	Inbound  string
	Accepted string
	At       time.Time
}

// Key identifies an observation by the (name, ip) pair the detector and
// store key off of.
func (o Observation) Key() (string, string) { return o.Name, o.IP }

// Equal reports whether two observations refer to the same (name, ip) pair.
// The debouncer and store compare observations this way, not by identity.
func (o Observation) Equal(other Observation) bool {
	return o.Name == other.Name && o.IP == other.IP
}

// UserLimit is the per-user concurrent-IP limit as resolved by the limit
// resolver. Limit == 0 means "no enforcement for this user". Resolved
// distinguishes an explicit limit of zero from a not-yet-resolved sentinel —
// see SPEC_FULL.md's Open Question Decisions; enforcement treats both the
// same way (exempt).
type UserLimit struct {
	Name     string
	Limit    int
	Resolved bool
}

// UserRecord is the subset of a panel user record the limit resolver needs.
type UserRecord struct {
	Name       string
	ServiceIDs []int
}
