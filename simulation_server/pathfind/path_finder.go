// Package pathfind plans movement over map node graphs: shortest node paths
// within a map and entrance-to-entrance routes across maps.
package pathfind

import (
	"github.com/avasek/townsim/simulation_server/world"
)

// FindPath returns the shortest node path from src to dst on a single map by
// breadth-first search over ConnectedTo, skipping blocked node ids. Neighbors
// are expanded in ConnectedTo order so results are deterministic. Returns nil
// if dst is unreachable.
func FindPath(m *world.Map, src, dst string, blocked map[string]bool) []string {
	if src == dst {
		if _, ok := m.Node(src); !ok {
			return nil
		}
		return []string{src}
	}
	if _, ok := m.Node(src); !ok {
		return nil
	}
	if _, ok := m.Node(dst); !ok {
		return nil
	}
	if blocked[dst] {
		return nil
	}

	prev := map[string]string{src: ""}
	queue := []string{src}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		node, ok := m.Node(curr)
		if !ok {
			continue
		}

		for _, next := range node.ConnectedTo {
			if _, seen := prev[next]; seen {
				continue
			}
			if blocked[next] {
				continue
			}
			if _, ok := m.Node(next); !ok {
				continue
			}
			prev[next] = curr
			if next == dst {
				return backtrack(prev, src, dst)
			}
			queue = append(queue, next)
		}
	}

	return nil
}

func backtrack(prev map[string]string, src, dst string) []string {
	var rev []string
	for at := dst; at != ""; at = prev[at] {
		rev = append(rev, at)
		if at == src {
			break
		}
	}

	path := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return path
}
