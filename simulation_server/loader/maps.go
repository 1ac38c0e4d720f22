package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/avasek/townsim/simulation_server/world"
)

// DefaultTileSize is the pixel size of one grid tile when the world config
// does not override it.
const DefaultTileSize = 32

type gridConfig struct {
	Prefix string `json:"prefix"`
	Cols   int    `json:"cols"`
	Rows   int    `json:"rows"`
}

type labelConfig struct {
	NodeID string `json:"nodeId"`
	Label  string `json:"label"`
	Type   string `json:"type,omitempty"`
}

type entranceConfig struct {
	ID               string        `json:"id"`
	Row              int           `json:"row"`
	Col              int           `json:"col"`
	ConnectedNodeIDs []string      `json:"connectedNodeIds"`
	LeadsTo          world.LeadsTo `json:"leadsTo"`
	Label            string        `json:"label,omitempty"`
}

type doorConfig struct {
	Side  string `json:"side"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type obstacleConfig struct {
	ID         string          `json:"id,omitempty"`
	Row        int             `json:"row"`
	Col        int             `json:"col"`
	TileWidth  int             `json:"tileWidth"`
	TileHeight int             `json:"tileHeight"`
	Type       string          `json:"type,omitempty"`
	Label      string          `json:"label,omitempty"`
	Facility   *world.Facility `json:"facility,omitempty"`
	Door       *doorConfig     `json:"door,omitempty"`
	WallSides  []string        `json:"wallSides,omitempty"`
}

type mapConfig struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Width           int              `json:"width"`
	Height          int              `json:"height"`
	BackgroundColor string           `json:"backgroundColor"`
	SpawnNodeID     string           `json:"spawnNodeId"`
	Grid            gridConfig       `json:"grid"`
	Labels          []labelConfig    `json:"labels,omitempty"`
	Entrances       []entranceConfig `json:"entrances,omitempty"`
	Obstacles       []obstacleConfig `json:"obstacles,omitempty"`
}

var validWallSides = map[string]bool{"top": true, "bottom": true, "left": true, "right": true}

// LoadMaps reads maps.json and builds every map: grid nodes with 4-neighbour
// connections, entrances wired into the grid, obstacles with pixel geometry.
// The first invariant violation aborts the load.
func LoadMaps(path string, tileSize int) (map[string]*world.Map, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &MapLoadError{Err: fmt.Errorf("could not read maps file %s: %w", path, err)}
	}

	var configs []mapConfig
	if err := json.Unmarshal(content, &configs); err != nil {
		return nil, &MapLoadError{Err: fmt.Errorf("could not unmarshal maps file json: %w", err)}
	}

	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}

	maps := map[string]*world.Map{}
	for _, cfg := range configs {
		m, err := buildMap(cfg, tileSize)
		if err != nil {
			return nil, err
		}
		if _, dup := maps[m.ID]; dup {
			return nil, mapErr(m.ID, "duplicate map id")
		}
		maps[m.ID] = m
	}

	// Entrance targets can only be checked once every map exists.
	for _, m := range maps {
		for _, ent := range m.Entrances() {
			target, ok := maps[ent.LeadsTo.MapID]
			if !ok {
				return nil, mapErr(m.ID, "entrance %s leads to unknown map %s", ent.ID, ent.LeadsTo.MapID)
			}
			if _, ok := target.Node(ent.LeadsTo.NodeID); !ok {
				return nil, mapErr(m.ID, "entrance %s leads to unknown node %s on map %s",
					ent.ID, ent.LeadsTo.NodeID, ent.LeadsTo.MapID)
			}
		}
	}

	return maps, nil
}

func buildMap(cfg mapConfig, tileSize int) (*world.Map, error) {
	if cfg.ID == "" {
		return nil, mapErr("", "map is missing an id")
	}
	if cfg.Grid.Prefix == "" || cfg.Grid.Cols <= 0 || cfg.Grid.Rows <= 0 {
		return nil, mapErr(cfg.ID, "invalid grid %+v", cfg.Grid)
	}

	m := &world.Map{
		ID:              cfg.ID,
		Name:            cfg.Name,
		Width:           cfg.Width,
		Height:          cfg.Height,
		BackgroundColor: cfg.BackgroundColor,
		SpawnNodeID:     cfg.SpawnNodeID,
		GridPrefix:      cfg.Grid.Prefix,
		Nodes:           map[string]*world.PathNode{},
	}

	obstacles, err := buildObstacles(cfg, tileSize)
	if err != nil {
		return nil, err
	}
	m.Obstacles = obstacles

	buildGrid(m, cfg.Grid, tileSize)

	for _, ent := range cfg.Entrances {
		if err := addEntrance(m, ent, tileSize); err != nil {
			return nil, err
		}
	}

	for _, l := range cfg.Labels {
		node, ok := m.Node(l.NodeID)
		if !ok {
			return nil, mapErr(cfg.ID, "label %q points to unresolved node %s (inside a building?)", l.Label, l.NodeID)
		}
		node.Label = l.Label
	}

	if _, ok := m.Node(m.SpawnNodeID); !ok {
		return nil, mapErr(cfg.ID, "spawnNodeId %s does not resolve", m.SpawnNodeID)
	}

	return m, nil
}

func buildObstacles(cfg mapConfig, tileSize int) ([]*world.Obstacle, error) {
	var out []*world.Obstacle
	for i, o := range cfg.Obstacles {
		typ := world.ObstacleType(o.Type)
		if o.Type == "" {
			typ = world.ObstacleBuilding
		}
		switch typ {
		case world.ObstacleBuilding:
			if o.TileWidth < 2 || o.TileHeight < 2 {
				return nil, mapErr(cfg.ID, "building obstacle %d is below the 2x2 minimum (%dx%d)", i, o.TileWidth, o.TileHeight)
			}
		case world.ObstacleZone:
			if o.TileWidth < 4 || o.TileHeight < 4 {
				return nil, mapErr(cfg.ID, "zone obstacle %d is below the 4x4 minimum (%dx%d)", i, o.TileWidth, o.TileHeight)
			}
		default:
			return nil, mapErr(cfg.ID, "obstacle %d has invalid type %q", i, o.Type)
		}

		for _, side := range o.WallSides {
			if !validWallSides[side] {
				return nil, mapErr(cfg.ID, "obstacle %d has invalid wall side %q", i, side)
			}
		}

		if o.Door != nil {
			if !validWallSides[o.Door.Side] {
				return nil, mapErr(cfg.ID, "obstacle %d door on invalid side %q", i, o.Door.Side)
			}
			wallLen := o.TileWidth
			if o.Door.Side == "left" || o.Door.Side == "right" {
				wallLen = o.TileHeight
			}
			if o.Door.Start < 0 || o.Door.End > wallLen || o.Door.End-o.Door.Start < 2 {
				return nil, mapErr(cfg.ID, "obstacle %d door range [%d,%d) invalid for wall length %d",
					i, o.Door.Start, o.Door.End, wallLen)
			}
		}

		id := o.ID
		if id == "" {
			id = fmt.Sprintf("%s-obstacle-%d", cfg.ID, i)
		}

		out = append(out, &world.Obstacle{
			ID:         id,
			Type:       typ,
			TileRow:    o.Row,
			TileCol:    o.Col,
			TileWidth:  o.TileWidth,
			TileHeight: o.TileHeight,
			X:          float64(o.Col * tileSize),
			Y:          float64(o.Row * tileSize),
			Width:      float64(o.TileWidth * tileSize),
			Height:     float64(o.TileHeight * tileSize),
			Label:      o.Label,
			Facility:   o.Facility,
		})
	}
	return out, nil
}

// buildGrid lays out the waypoint lattice. Nodes strictly inside a building
// obstacle are omitted, which is how buildings exclude tiles from
// pathfinding; connections only form between surviving 4-neighbours.
func buildGrid(m *world.Map, grid gridConfig, tileSize int) {
	inBuilding := func(p world.Position) bool {
		for _, o := range m.Obstacles {
			if o.Type == world.ObstacleBuilding && o.ContainsStrict(p) {
				return true
			}
		}
		return false
	}

	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			p := world.Position{
				X: float64(col*tileSize + tileSize/2),
				Y: float64(row*tileSize + tileSize/2),
			}
			if inBuilding(p) {
				continue
			}
			id := gridNodeID(grid.Prefix, row, col)
			m.Nodes[id] = &world.PathNode{
				ID:   id,
				X:    p.X,
				Y:    p.Y,
				Type: world.NodeTypeWaypoint,
			}
		}
	}

	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			node, ok := m.Nodes[gridNodeID(grid.Prefix, row, col)]
			if !ok {
				continue
			}
			neighbours := [][2]int{{row - 1, col}, {row + 1, col}, {row, col - 1}, {row, col + 1}}
			for _, rc := range neighbours {
				nid := gridNodeID(grid.Prefix, rc[0], rc[1])
				if _, ok := m.Nodes[nid]; ok {
					node.ConnectedTo = append(node.ConnectedTo, nid)
				}
			}
		}
	}

	if spawn, ok := m.Nodes[m.SpawnNodeID]; ok {
		spawn.Type = world.NodeTypeSpawn
	}
}

func gridNodeID(prefix string, row, col int) string {
	return fmt.Sprintf("%s-%d-%d", prefix, row, col)
}

// addEntrance inserts an entrance node and wires it symmetrically into the
// grid nodes it names.
func addEntrance(m *world.Map, ent entranceConfig, tileSize int) error {
	if ent.ID == "" {
		return mapErr(m.ID, "entrance at (%d,%d) is missing an id", ent.Row, ent.Col)
	}
	if _, dup := m.Nodes[ent.ID]; dup {
		return mapErr(m.ID, "entrance id %s collides with an existing node", ent.ID)
	}

	node := &world.PathNode{
		ID:    ent.ID,
		X:     float64(ent.Col*tileSize + tileSize/2),
		Y:     float64(ent.Row*tileSize + tileSize/2),
		Type:  world.NodeTypeEntrance,
		Label: ent.Label,
	}
	lt := ent.LeadsTo
	node.LeadsTo = &lt

	for _, cid := range ent.ConnectedNodeIDs {
		target, ok := m.Nodes[cid]
		if !ok {
			return mapErr(m.ID, "entrance %s connects to unresolved node %s", ent.ID, cid)
		}
		node.ConnectedTo = append(node.ConnectedTo, cid)
		target.ConnectedTo = append(target.ConnectedTo, ent.ID)
	}

	m.Nodes[ent.ID] = node
	return nil
}
