package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/txgate/internal/confirm"
)

// linkPath returns the chain of links by which from already waits on to,
// as [from, ..., to], or nil when to is not reachable. Adding the link
// to -> from would then close a cycle in which no record can be sent.
func (e *Engine) linkPath(ctx context.Context, from, to string) ([]string, error) {
	parent := map[string]string{from: ""}
	queue := []string{from}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		deps, err := e.store.Dependencies(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("link cycle check %s: %w", id, err)
		}
		for _, dep := range deps {
			next := dep.PrimaryID
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = id
			if next == to {
				return reconstructPath(parent, from, to), nil
			}
			queue = append(queue, next)
		}
	}
	return nil, nil
}

// reconstructPath walks parent pointers back from to.
func reconstructPath(parent map[string]string, from, to string) []string {
	var rev []string
	for id := to; id != from; id = parent[id] {
		rev = append(rev, id)
	}
	rev = append(rev, from)

	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

func linkCycle(dependentID string, path []string) *confirm.Error {
	// path runs primary -> ... -> dependent; the new link closes it.
	cycle := append([]string{dependentID}, path...)
	return &confirm.Error{
		Code:    confirm.ErrCodeConflict,
		Message: "link would create a cycle: " + strings.Join(cycle, " -> "),
		ID:      dependentID,
		Reasons: cycle,
	}
}
