package optimistic

// Status is the lifecycle state of an Update.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusConflicted Status = "conflicted"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusConflicted, StatusFailed, StatusRolledBack},
	StatusFailed:     {StatusPending, StatusRolledBack},
	StatusConflicted: {StatusPending, StatusConfirmed, StatusRolledBack},
}

// CanTransition reports whether an update may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state. Terminal updates are removed
// from the registry after the cleanup delay.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusRolledBack
}

// Rollbackable reports whether an update in status s may be rolled back.
func (s Status) Rollbackable() bool {
	return CanTransition(s, StatusRolledBack)
}

func (s Status) String() string { return string(s) }
