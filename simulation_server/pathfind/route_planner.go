package pathfind

import (
	"sort"

	"github.com/avasek/townsim/simulation_server/world"
)

// PlanRoute produces a cross-map route from (fromMap, fromNode) to
// (toMap, toNode). The map sequence is the lexicographically first shortest
// path over the entrance graph; each segment is a valid intra-map path
// avoiding that map's blocked set. Segment i ends at an entrance whose
// LeadsTo is segment i+1's first node. Returns nil if any leg is
// unreachable.
func PlanRoute(maps map[string]*world.Map, fromMap, fromNode, toMap, toNode string, blocked map[string]map[string]bool) []world.RouteSegment {
	if _, ok := maps[fromMap]; !ok {
		return nil
	}
	if _, ok := maps[toMap]; !ok {
		return nil
	}

	if fromMap == toMap {
		path := FindPath(maps[fromMap], fromNode, toNode, blocked[fromMap])
		if path == nil {
			return nil
		}
		return []world.RouteSegment{{MapID: fromMap, Path: path}}
	}

	mapSeq := shortestMapSequence(maps, fromMap, toMap)
	if mapSeq == nil {
		return nil
	}

	route := make([]world.RouteSegment, 0, len(mapSeq))
	currNode := fromNode

	for i := 0; i < len(mapSeq)-1; i++ {
		currMap := maps[mapSeq[i]]
		nextMapID := mapSeq[i+1]

		// First entrance (by id) into the next map that is reachable from the
		// current node wins.
		var seg *world.RouteSegment
		var nextStart string
		for _, ent := range currMap.Entrances() {
			if ent.LeadsTo.MapID != nextMapID {
				continue
			}
			path := FindPath(currMap, currNode, ent.ID, blocked[currMap.ID])
			if path == nil {
				continue
			}
			seg = &world.RouteSegment{MapID: currMap.ID, Path: path, ExitEntranceID: ent.ID}
			nextStart = ent.LeadsTo.NodeID
			break
		}
		if seg == nil {
			return nil
		}

		route = append(route, *seg)
		currNode = nextStart
	}

	last := maps[toMap]
	path := FindPath(last, currNode, toNode, blocked[toMap])
	if path == nil {
		return nil
	}
	route = append(route, world.RouteSegment{MapID: toMap, Path: path})

	return route
}

// shortestMapSequence runs BFS over the map adjacency induced by entrances.
// Neighbor maps are visited in sorted entrance-id order, which makes the
// returned sequence the lexicographically first among shortest ones.
func shortestMapSequence(maps map[string]*world.Map, from, to string) []string {
	if from == to {
		return []string{from}
	}

	prev := map[string]string{from: ""}
	queue := []string{from}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		for _, next := range neighborMaps(maps[curr]) {
			if _, seen := prev[next]; seen {
				continue
			}
			if _, ok := maps[next]; !ok {
				continue
			}
			prev[next] = curr
			if next == to {
				return backtrack(prev, from, to)
			}
			queue = append(queue, next)
		}
	}

	return nil
}

func neighborMaps(m *world.Map) []string {
	if m == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, ent := range m.Entrances() {
		if !seen[ent.LeadsTo.MapID] {
			seen[ent.LeadsTo.MapID] = true
			out = append(out, ent.LeadsTo.MapID)
		}
	}
	sort.Strings(out)
	return out
}

// MapsWithinHops returns the ids of maps reachable from the origin in at
// most maxHops entrance crossings, excluding the origin, with their hop
// distance. Ids come back sorted.
func MapsWithinHops(maps map[string]*world.Map, origin string, maxHops int) map[string]int {
	dist := map[string]int{origin: 0}
	queue := []string{origin}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		if dist[curr] >= maxHops {
			continue
		}
		for _, next := range neighborMaps(maps[curr]) {
			if _, seen := dist[next]; seen {
				continue
			}
			if _, ok := maps[next]; !ok {
				continue
			}
			dist[next] = dist[curr] + 1
			queue = append(queue, next)
		}
	}

	delete(dist, origin)
	return dist
}
