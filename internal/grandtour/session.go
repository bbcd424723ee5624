package grandtour

type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusActive     SessionStatus = "active"
	StatusReflection SessionStatus = "reflection"
	StatusEnded      SessionStatus = "ended"
)

// transitions lists the statuses reachable from each status. Nothing leaves
// StatusEnded.
var transitions = map[SessionStatus][]SessionStatus{
	StatusNotStarted: {StatusActive},
	StatusActive:     {StatusReflection, StatusEnded},
	StatusReflection: {StatusActive, StatusEnded},
}

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusActive, StatusReflection, StatusEnded:
		return true
	}
	return false
}

// CanTransition reports whether a session may move from s to next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

func (s SessionStatus) Ended() bool { return s == StatusEnded }
