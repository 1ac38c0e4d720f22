package engine

import (
	"sort"

	"github.com/avasek/townsim/simulation_server/action"
	"github.com/avasek/townsim/simulation_server/decide"
	"github.com/avasek/townsim/simulation_server/pathfind"
	"github.com/avasek/townsim/simulation_server/world"
)

// buildContextLocked assembles the behaviour context for one decision. Every
// reference in it is a clone or copy: the decider runs off the tick loop and
// must never touch live state.
func (e *Engine) buildContextLocked(ch *world.Character) *decide.Context {
	now := e.ws.Time
	m := e.maps[ch.CurrentMapID]

	bc := &decide.Context{
		Character: ch.Clone(),
		Time:      now,
	}
	if sched := e.schedules[ch.ID]; sched != nil {
		bc.Schedule = sched.Clone()
	}

	if m != nil {
		for _, o := range m.Obstacles {
			if o.Facility == nil {
				continue
			}
			bc.CurrentMapFacilities = append(bc.CurrentMapFacilities, e.facilityInfoLocked(m, o, 0))
		}
		bc.AvailableActions = e.availableActionsLocked(ch, m, now)
	}

	hops := pathfind.MapsWithinHops(e.maps, ch.CurrentMapID, e.cfg.NearbyMapHops)
	nearIDs := make([]string, 0, len(hops))
	for id := range hops {
		nearIDs = append(nearIDs, id)
	}
	sort.Strings(nearIDs)

	for _, id := range nearIDs {
		nm := e.maps[id]
		bc.NearbyMaps = append(bc.NearbyMaps, decide.MapInfo{MapID: id, Name: nm.Name, Hops: hops[id]})
		for _, o := range nm.Obstacles {
			if o.Facility == nil {
				continue
			}
			bc.NearbyFacilities = append(bc.NearbyFacilities, e.facilityInfoLocked(nm, o, hops[id]))
		}
	}

	npcIDs := make([]string, 0, len(e.ws.NPCs))
	for id := range e.ws.NPCs {
		npcIDs = append(npcIDs, id)
	}
	sort.Strings(npcIDs)
	for _, id := range npcIDs {
		npc := e.ws.NPCs[id]
		if npc.MapID != ch.CurrentMapID || npc.InConversation {
			continue
		}
		bc.NearbyNPCs = append(bc.NearbyNPCs, decide.NPCInfo{
			ID:       npc.ID,
			Name:     npc.Name,
			Mood:     npc.Mood,
			Affinity: npc.Affinity,
			NodeID:   npc.CurrentNodeID,
			MapID:    npc.MapID,
		})
	}

	// History and memories are advisory; a failed load just leaves them out.
	if entries, err := e.store.LoadActionHistoryForDay(now.Day); err == nil {
		for _, entry := range entries {
			if entry.CharacterID == ch.ID {
				bc.TodayActions = append(bc.TodayActions, entry)
			}
		}
	}
	if mems, err := e.store.LoadActiveMidTermMemories(ch.ID, now.Day); err == nil {
		bc.MidTermMemories = mems
	}

	return bc
}

// availableActionsLocked lists catalogue actions whose preconditions pass for
// the character where it stands right now.
func (e *Engine) availableActionsLocked(ch *world.Character, m *world.Map, now world.WorldTime) []string {
	fac, _ := m.FacilityAt(ch.CurrentNodeID)

	var out []string
	for _, id := range e.executor.Catalog().IDs() {
		def, _ := e.executor.Catalog().Get(id)
		if def.Ephemeral {
			continue
		}
		if def.Requirements.NearNPC {
			if e.anyFreeAdjacentNPCLocked(ch) {
				out = append(out, id)
			}
			continue
		}
		req := action.Request{Definition: def, Facility: fac}
		if err := e.executor.CheckPreconditions(ch, m, req, now); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) anyFreeAdjacentNPCLocked(ch *world.Character) bool {
	for _, npc := range e.ws.NPCs {
		if !npc.InConversation && e.npcAdjacentLocked(ch, npc) {
			return true
		}
	}
	return false
}

func (e *Engine) facilityInfoLocked(m *world.Map, o *world.Obstacle, hops int) decide.FacilityInfo {
	info := decide.FacilityInfo{
		MapID:            m.ID,
		FacilityID:       o.ID,
		Label:            o.Label,
		Tags:             o.Facility.Tags,
		AvailableActions: action.ActionsForTags(o.Facility.Tags),
		Hops:             hops,
		Cost:             o.Facility.Cost,
	}
	if nodes := m.NodesForFacility(o); len(nodes) > 0 {
		info.NodeID = nodes[0]
	}
	return info
}
