package model

// Status is the lifecycle state shared by Import and Export jobs.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	// a failed job re-enters processing when the job runner retries it
	StatusFailed:    {StatusProcessing},
	StatusCompleted: {StatusExpired},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted,
		StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition leaves s.
// Failed counts as terminal for callers even though the runner may retry it.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Cancellable reports whether a user may still cancel a job in state s.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may transition into next.
func SourcesFor(next Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if from.CanTransition(next) {
			out = append(out, from)
		}
	}
	return out
}

func (s Status) String() string { return string(s) }
