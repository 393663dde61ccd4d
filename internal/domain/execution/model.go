package execution

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/ehr/voicedb/internal/domain/command"
	"github.com/ehr/voicedb/internal/domain/compliance"
	"github.com/ehr/voicedb/internal/domain/statement"
	"github.com/ehr/voicedb/internal/platform/hipaa"
)

// Caller-facing reasons for internal failures. Details stay in the logs and
// on the audit record.
const (
	ReasonInternal         = "internal error"
	ReasonStorageFailure   = "storage failure"
	ReasonStorageTimeout   = "storage timeout"
	ReasonCancelled        = "request cancelled"
	ReasonAuditUnavailable = "audit trail unavailable"

	anonymousCaller = "anonymous"
)

// Request is one transcript submitted for execution.
type Request struct {
	Transcript string
	Caller     compliance.Caller
	RequestID  string
}

// Result is the caller-facing outcome of a request.
type Result struct {
	ExecutionID  uuid.UUID        `json:"execution_id"`
	Outcome      hipaa.Outcome    `json:"outcome"`
	Operation    string           `json:"operation"`
	TargetEntity *string          `json:"target_entity"`
	Reason       *string          `json:"reason"`
	RowsAffected *int64           `json:"rows_affected"`
	Data         []map[string]any `json:"data"`
}

// StatusFor maps an outcome to its HTTP status.
func StatusFor(o hipaa.Outcome) int {
	switch o {
	case hipaa.OutcomeExecuted:
		return http.StatusOK
	case hipaa.OutcomeDeclined:
		return http.StatusUnprocessableEntity
	case hipaa.OutcomeDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// State is a step of the per-request state machine.
type State int

const (
	StateReceived State = iota
	StateParsed
	StateDeclined
	StateSynthesized
	StateDenied
	StateApproved
	StateExecuted
	StateFailed
)

var stateNames = [...]string{"Received", "Parsed", "Declined", "Synthesized", "Denied", "Approved", "Executed", "Failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s ends a request.
func (s State) Terminal() bool {
	switch s {
	case StateDeclined, StateDenied, StateExecuted, StateFailed:
		return true
	}
	return false
}

// transitions lists the forward edges. Failed is reachable from any
// non-terminal state.
var transitions = map[State][]State{
	StateReceived:    {StateParsed},
	StateParsed:      {StateDeclined, StateSynthesized},
	StateSynthesized: {StateDenied, StateApproved},
	StateApproved:    {StateExecuted},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// run carries one request through the pipeline. It is request-local.
type run struct {
	id       uuid.UUID
	req      Request
	state    State
	cmd      *command.ParsedCommand
	stmt     *statement.Statement
	decision *compliance.Decision

	recorded bool
	result   *Result
}

func newRun(req Request) *run {
	return &run{id: uuid.New(), req: req, state: StateReceived}
}

func (r *run) advance(to State) error {
	if !canTransition(r.state, to) {
		return fmt.Errorf("invalid transition %s -> %s", r.state, to)
	}
	r.state = to
	return nil
}
