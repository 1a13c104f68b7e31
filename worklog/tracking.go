package worklog

import "time"

type State int

const (
	Idle State = iota
	Active
	GapPending
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case GapPending:
		return "gap-pending"
	default:
		return "idle"
	}
}

// Tracking is the single running session. Issue and Start are set together,
// as are LastHeartbeat and FirstHeartbeat.
type Tracking struct {
	Issue          *Issue     `json:"issue,omitempty"`
	Start          *time.Time `json:"start,omitempty"`
	Comment        string     `json:"comment,omitempty"`
	Heartbeat      *time.Time `json:"heartbeat,omitempty"`
	LastHeartbeat  *time.Time `json:"lastHeartbeat,omitempty"`
	FirstHeartbeat *time.Time `json:"firstHeartbeat,omitempty"`
}

func (t Tracking) State() State {
	if t.Issue == nil || t.Start == nil {
		return Idle
	}
	if t.LastHeartbeat != nil && t.FirstHeartbeat != nil {
		return GapPending
	}
	return Active
}

func (t Tracking) Elapsed(now time.Time) time.Duration {
	if t.Start == nil {
		return 0
	}
	return now.Sub(*t.Start)
}
