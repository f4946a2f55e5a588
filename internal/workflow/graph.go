package workflow

// transitions is the fixed edge table of the workflow graph. Neighbor order is
// significant: the path resolver breaks ties by declaration order, which keeps
// multi-hop resolution deterministic. No status transitions to itself, and
// archived is terminal.
var transitions = map[Status][]Status{
	StatusInbox:      {StatusAssigned, StatusArchived},
	StatusAssigned:   {StatusInProgress, StatusBlocked, StatusInbox, StatusArchived},
	StatusInProgress: {StatusReview, StatusBlocked, StatusArchived},
	StatusReview:     {StatusDone, StatusInProgress, StatusBlocked, StatusArchived},
	StatusDone:       {StatusArchived},
	StatusBlocked:    {StatusAssigned, StatusInProgress, StatusArchived},
	StatusArchived:   {},
}

// Outgoing returns the allowed target statuses from s in declaration order.
func Outgoing(s Status) []Status {
	out := transitions[s]
	cp := make([]Status, len(out))
	copy(cp, out)
	return cp
}

// IsValidTransition reports whether from→to is a single edge of the graph.
func IsValidTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
