package model

// CallState is the lifecycle state of an action call.
type CallState string

const (
	// CallStateRequested is the initial state. Calls whose action requires
	// approval stay here until a human decides.
	CallStateRequested CallState = "requested"

	// CallStateExecuting marks an approved call while its handler runs.
	CallStateExecuting CallState = "executing"

	// CallStateDenied means a human rejected the call; the handler never ran.
	CallStateDenied CallState = "denied"

	CallStateCompleted CallState = "completed"
	CallStateFailed    CallState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s CallState) Terminal() bool {
	switch s {
	case CallStateDenied, CallStateCompleted, CallStateFailed:
		return true
	}
	return false
}

// ActionCall is a proposed invocation of a named action, carrying arguments
// and the action's approval requirement. It is the unit the gate and the
// approval resolver operate on.
type ActionCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// RequiresApproval is fixed per action name at registration time and
	// recorded on the call so persisted pending state is self-describing.
	RequiresApproval bool `json:"requires_approval"`

	State CallState `json:"state"`

	// Result is the handler's output text, or the error text on failure.
	Result string `json:"result,omitempty"`

	// Reason is the human-supplied denial reason.
	Reason string `json:"reason,omitempty"`
}

// Decision is one human verdict on a pending action call.
type Decision struct {
	CallID   string         `json:"call_id"`
	Approved bool           `json:"approved"`
	Override map[string]any `json:"override_args,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}
