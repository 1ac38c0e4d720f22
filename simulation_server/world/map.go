package world

import (
	"math"
	"sort"
)

// Position is a point in map pixel coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Position) DistanceTo(o Position) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	return math.Sqrt(dx*dx + dy*dy)
}

type NodeType string

const (
	NodeTypeWaypoint NodeType = "waypoint"
	NodeTypeEntrance NodeType = "entrance"
	NodeTypeSpawn    NodeType = "spawn"
)

// LeadsTo links an entrance node to its counterpart on another map.
type LeadsTo struct {
	MapID  string `json:"mapId"`
	NodeID string `json:"nodeId"`
}

// PathNode is a vertex of a map's navigation graph. Grid node ids have the
// form "<mapPrefix>-<row>-<col>"; entrance ids are arbitrary.
type PathNode struct {
	ID          string   `json:"id"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Type        NodeType `json:"type"`
	ConnectedTo []string `json:"connectedTo"`
	LeadsTo     *LeadsTo `json:"leadsTo,omitempty"`
	Label       string   `json:"label,omitempty"`
}

func (n *PathNode) Position() Position {
	return Position{X: n.X, Y: n.Y}
}

type ObstacleType string

const (
	ObstacleBuilding ObstacleType = "building"
	ObstacleZone     ObstacleType = "zone"
)

type FacilityTag string

const (
	TagKitchen    FacilityTag = "kitchen"
	TagRestaurant FacilityTag = "restaurant"
	TagBathroom   FacilityTag = "bathroom"
	TagHotspring  FacilityTag = "hotspring"
	TagBedroom    FacilityTag = "bedroom"
	TagToilet     FacilityTag = "toilet"
	TagWorkspace  FacilityTag = "workspace"
	TagPublic     FacilityTag = "public"
)

// Job is an employment slot exposed by a workspace facility.
type Job struct {
	Title      string `json:"title"`
	HourlyWage int    `json:"hourlyWage"`
}

// Facility marks an obstacle as usable for particular actions.
type Facility struct {
	Tags    []FacilityTag `json:"tags"`
	Owner   string        `json:"owner,omitempty"`
	Cost    int           `json:"cost,omitempty"`
	Quality int           `json:"quality,omitempty"`
	Job     *Job          `json:"job,omitempty"`
}

func (f *Facility) HasTag(tag FacilityTag) bool {
	if f == nil {
		return false
	}
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Obstacle is a rectangular region of a map. Zone obstacles contain nodes,
// building obstacles exclude them from pathfinding.
type Obstacle struct {
	ID         string       `json:"id"`
	Type       ObstacleType `json:"type"`
	TileRow    int          `json:"tileRow"`
	TileCol    int          `json:"tileCol"`
	TileWidth  int          `json:"tileWidth"`
	TileHeight int          `json:"tileHeight"`
	X          float64      `json:"x"`
	Y          float64      `json:"y"`
	Width      float64      `json:"width"`
	Height     float64      `json:"height"`
	Label      string       `json:"label,omitempty"`
	Facility   *Facility    `json:"facility,omitempty"`
}

// Contains reports whether the pixel position lies inside the obstacle,
// boundary included.
func (o *Obstacle) Contains(p Position) bool {
	return p.X >= o.X && p.X <= o.X+o.Width && p.Y >= o.Y && p.Y <= o.Y+o.Height
}

// ContainsStrict excludes the boundary; used to reject nodes placed inside
// buildings.
func (o *Obstacle) ContainsStrict(p Position) bool {
	return p.X > o.X && p.X < o.X+o.Width && p.Y > o.Y && p.Y < o.Y+o.Height
}

// Map is an immutable tile map. Its node graph and obstacles never change
// after loading.
type Map struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Width           int                  `json:"width"`
	Height          int                  `json:"height"`
	BackgroundColor string               `json:"backgroundColor"`
	SpawnNodeID     string               `json:"spawnNodeId"`
	GridPrefix      string               `json:"gridPrefix"`
	Nodes           map[string]*PathNode `json:"nodes"`
	Obstacles       []*Obstacle          `json:"obstacles"`
}

func (m *Map) Node(id string) (*PathNode, bool) {
	n, ok := m.Nodes[id]
	return n, ok
}

// NodeIDs returns all node ids in lexicographic order.
func (m *Map) NodeIDs() []string {
	ids := make([]string, 0, len(m.Nodes))
	for id := range m.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entrances returns all entrance nodes sorted by id. The planner relies on
// this ordering for deterministic route selection.
func (m *Map) Entrances() []*PathNode {
	var out []*PathNode
	for _, id := range m.NodeIDs() {
		if n := m.Nodes[id]; n.Type == NodeTypeEntrance && n.LeadsTo != nil {
			out = append(out, n)
		}
	}
	return out
}

// FacilityAt returns the facility-bearing obstacle covering the node, if any.
func (m *Map) FacilityAt(nodeID string) (*Obstacle, bool) {
	n, ok := m.Nodes[nodeID]
	if !ok {
		return nil, false
	}
	for _, o := range m.Obstacles {
		if o.Facility != nil && o.Contains(n.Position()) {
			return o, true
		}
	}
	return nil, false
}

// FacilityByID looks an obstacle up by its id, facility-bearing or not.
func (m *Map) FacilityByID(id string) (*Obstacle, bool) {
	for _, o := range m.Obstacles {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// NodesForFacility returns the ids of all graph nodes covered by the given
// obstacle, sorted.
func (m *Map) NodesForFacility(o *Obstacle) []string {
	var out []string
	for _, id := range m.NodeIDs() {
		if o.Contains(m.Nodes[id].Position()) {
			out = append(out, id)
		}
	}
	return out
}
