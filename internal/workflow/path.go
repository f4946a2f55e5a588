package workflow

import "errors"

// ErrNoPath is returned by FindPath when no hop sequence exists under the
// given allow-list. It is distinct from an invalid single transition so that
// callers can reject the request instead of silently doing nothing.
var ErrNoPath = errors.New("no transition path")

// AutomatedAllowList is the set of statuses an automated caller may pass
// through (or land on) when resolving a multi-hop transition. inbox and
// assigned are excluded: they encode human assignment semantics and must not
// be entered by automated jumps.
var AutomatedAllowList = []Status{StatusInProgress, StatusReview, StatusDone, StatusBlocked}

// FindPath resolves the shortest hop sequence from `from` to `to` by
// breadth-first search over the workflow graph, entering only statuses on the
// allow-list. The returned path excludes `from` and ends with `to`. Ties are
// broken by edge declaration order. from == to yields an empty path.
func FindPath(from, to Status, allowed []Status) ([]Status, error) {
	if from == to {
		return []Status{}, nil
	}

	allow := make(map[Status]bool, len(allowed))
	for _, s := range allowed {
		allow[s] = true
	}
	if !allow[to] {
		return nil, ErrNoPath
	}

	parent := map[Status]Status{from: from}
	queue := []Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if !allow[next] {
				continue
			}
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == to {
				return buildPath(parent, from, to), nil
			}
			queue = append(queue, next)
		}
	}
	return nil, ErrNoPath
}

func buildPath(parent map[Status]Status, from, to Status) []Status {
	var rev []Status
	for cur := to; cur != from; cur = parent[cur] {
		rev = append(rev, cur)
	}
	path := make([]Status, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return path
}
