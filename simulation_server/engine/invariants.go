package engine

import (
	"fmt"

	"github.com/avasek/townsim/simulation_server/world"
)

// CheckInvariants verifies the structural consistency of a world state
// against its maps. The tick loop maintains these by construction; the check
// exists for tests and debugging.
func CheckInvariants(ws *world.WorldState, maps map[string]*world.Map) []error {
	var errs []error

	npcSessions := map[string]int{}
	for _, s := range ws.Sessions {
		if s.Status == world.ConversationActive {
			npcSessions[s.NPCID]++
		}
	}

	for id, ch := range ws.Characters {
		m, ok := maps[ch.CurrentMapID]
		if !ok {
			errs = append(errs, fmt.Errorf("character %s is on unknown map %s", id, ch.CurrentMapID))
			continue
		}
		if _, ok := m.Node(ch.CurrentNodeID); !ok {
			errs = append(errs, fmt.Errorf("character %s is on unknown node %s of map %s", id, ch.CurrentNodeID, ch.CurrentMapID))
		}

		for _, stat := range world.StatNames {
			v := ch.Stats.Get(stat)
			if v < 0 || v > 100 {
				errs = append(errs, fmt.Errorf("character %s stat %s out of range: %v", id, stat, v))
			}
		}

		if ch.Navigation.IsMoving {
			if len(ch.Navigation.Path) == 0 {
				errs = append(errs, fmt.Errorf("character %s is moving with an empty path", id))
			} else if ch.Navigation.CurrentPathIndex >= len(ch.Navigation.Path) {
				errs = append(errs, fmt.Errorf("character %s path index %d out of bounds", id, ch.Navigation.CurrentPathIndex))
			}
		}
		if ch.CrossMapNavigation != nil && !ch.Navigation.IsMoving {
			errs = append(errs, fmt.Errorf("character %s has a cross-map route while not moving", id))
		}

		if a := ch.CurrentAction; a != nil {
			if a.TargetEndTime.Before(a.StartTime) {
				errs = append(errs, fmt.Errorf("character %s action %s ends before it starts", id, a.ID))
			}
		}

		if ch.ConversationID != "" {
			s, ok := ws.Sessions[ch.ConversationID]
			if !ok {
				errs = append(errs, fmt.Errorf("character %s references missing session %s", id, ch.ConversationID))
			} else if s.CharacterID != id {
				errs = append(errs, fmt.Errorf("session %s does not belong to character %s", s.ID, id))
			}
		}
	}

	for id, npc := range ws.NPCs {
		n := npcSessions[id]
		if npc.InConversation && n != 1 {
			errs = append(errs, fmt.Errorf("npc %s marked in conversation but has %d active sessions", id, n))
		}
		if !npc.InConversation && n != 0 {
			errs = append(errs, fmt.Errorf("npc %s not marked in conversation but has %d active sessions", id, n))
		}
		if m, ok := maps[npc.MapID]; !ok {
			errs = append(errs, fmt.Errorf("npc %s is on unknown map %s", id, npc.MapID))
		} else if _, ok := m.Node(npc.CurrentNodeID); !ok {
			errs = append(errs, fmt.Errorf("npc %s is on unknown node %s", id, npc.CurrentNodeID))
		}
	}

	for id, s := range ws.Sessions {
		if s.ID != id {
			errs = append(errs, fmt.Errorf("session map key %s does not match session id %s", id, s.ID))
		}
		if _, ok := ws.Characters[s.CharacterID]; !ok {
			errs = append(errs, fmt.Errorf("session %s references missing character %s", id, s.CharacterID))
		}
		if _, ok := ws.NPCs[s.NPCID]; !ok {
			errs = append(errs, fmt.Errorf("session %s references missing npc %s", id, s.NPCID))
		}
	}

	return errs
}
