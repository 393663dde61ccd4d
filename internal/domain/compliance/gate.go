package compliance

import (
	"strings"

	"github.com/ehr/voicedb/internal/domain/statement"
	"github.com/ehr/voicedb/internal/platform/hipaa"
)

// Denial reasons.
const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonElevationRequired = "destructive operation requires elevated approval"
	ReasonApproved          = "approved"
)

// Caller is the identity a request runs as. An empty ID means no identity
// was presented.
type Caller struct {
	ID               string `json:"caller_id"`
	ElevatedApproval bool   `json:"elevated_approval"`
}

// Authenticated reports whether the caller carries an identity.
func (c Caller) Authenticated() bool {
	return strings.TrimSpace(c.ID) != ""
}

// Decision is the gate's verdict for one statement.
type Decision struct {
	Approved                 bool             `json:"approved"`
	Reason                   string           `json:"reason"`
	AuditLevel               hipaa.AuditLevel `json:"audit_level"`
	RequiresElevatedApproval bool             `json:"requires_elevated_approval"`
}

// Gate evaluates statements against the access policy. It holds no state.
type Gate struct{}

// NewGate returns the compliance gate.
func NewGate() Gate { return Gate{} }

// Evaluate applies the rules in order and returns a fresh decision. Only
// typed fields of the statement are consulted, never its text or values.
//
//  1. no caller identity: denied
//  2. destructive without elevated approval: denied
//  3. otherwise approved
func (Gate) Evaluate(stmt *statement.Statement, caller Caller) Decision {
	d := Decision{
		AuditLevel:               LevelFor(stmt.TouchesPhi),
		RequiresElevatedApproval: stmt.IsDestructive,
	}
	switch {
	case !caller.Authenticated():
		d.Reason = ReasonUnauthenticated
	case stmt.IsDestructive && !caller.ElevatedApproval:
		d.Reason = ReasonElevationRequired
	default:
		d.Approved = true
		d.Reason = ReasonApproved
	}
	return d
}

// LevelFor returns the audit level for a request that does or does not touch
// PHI.
func LevelFor(touchesPhi bool) hipaa.AuditLevel {
	if touchesPhi {
		return hipaa.AuditComprehensive
	}
	return hipaa.AuditStandard
}
