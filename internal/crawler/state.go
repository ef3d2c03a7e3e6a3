package crawler

// Control actions accepted on a run.
const (
	ActionStart  = "start"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusCrawling, StatusFailed},
	StatusCrawling: {StatusPaused, StatusCompleted, StatusFailed},
	StatusPaused:   {StatusCrawling, StatusCompleted, StatusFailed},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCrawling, StatusPaused, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CheckAction validates a control action against the current status.
func CheckAction(run AuditRun, action string) error {
	ok := false
	switch action {
	case ActionStart:
		ok = run.Status == StatusPending
	case ActionPause:
		ok = run.Status == StatusCrawling
	case ActionResume:
		ok = run.Status == StatusPaused
	case ActionStop:
		ok = run.Status == StatusCrawling || run.Status == StatusPaused
	}
	if !ok {
		return &ConflictError{RunID: run.ID, From: run.Status, Action: action}
	}
	return nil
}

// Transition moves run to next when the lifecycle allows it.
func Transition(run *AuditRun, next Status) error {
	if !run.Status.CanTransition(next) {
		return &ConflictError{RunID: run.ID, From: run.Status, Action: string(next)}
	}
	run.Status = next
	return nil
}
