package domain

// Status is the detector-maintained state of a session. The set is closed:
// every observation yields one of these five values, and Dead is terminal.
type Status string

const (
	// StatusStarting is the initial state before the first successful
	// pane capture.
	StatusStarting Status = "starting"

	// StatusRunning indicates the driven tool is actively producing output.
	StatusRunning Status = "running"

	// StatusWaitingInput indicates the tool is idle at a free-form prompt.
	StatusWaitingInput Status = "waiting_input"

	// StatusWaitingApproval indicates the tool is blocked on an
	// approve/deny decision. Takes precedence over WaitingInput.
	StatusWaitingApproval Status = "waiting_approval"

	// StatusDead indicates the underlying tmux session is gone. Terminal:
	// a dead session is never resurrected, a new one must be created.
	StatusDead Status = "dead"
)

// Valid reports whether s is one of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusWaitingInput, StatusWaitingApproval, StatusDead:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDead
}

// NeedsAttention reports whether the session is blocked on the user.
func (s Status) NeedsAttention() bool {
	return s == StatusWaitingInput || s == StatusWaitingApproval
}
