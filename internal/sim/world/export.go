package world

import (
	"fmt"
	"sort"

	"gridwarden.ai/internal/persistence/snapshot"
)

// ExportSnapshot captures the world content in snapshot form. The caller
// fills the header, the checkpoint hash, and the RNG stream positions.
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Seed:          w.Seed,
		PolicyVersion: w.policyVersion,
		NextEntityID:  w.nextEntityID,
		Tuning:        snapshot.TuningToV1(w.Tuning),
		TerrainR:      w.terrain.R,
		TerrainRLE:    w.terrain.EncodeHeights(),
	}

	for _, id := range w.AgentIDs() {
		a := w.agents[id]
		av := snapshot.AgentV1{
			ID: a.ID, Name: a.Name, Role: a.Role,
			Pos: [2]int{a.X, a.Y}, Health: a.Health, Energy: a.Energy, Mood: a.Mood,
		}
		items := make([]string, 0, len(a.Inventory))
		for item, n := range a.Inventory {
			if n != 0 {
				items = append(items, item)
			}
		}
		sort.Strings(items)
		for _, item := range items {
			av.Inventory = append(av.Inventory, snapshot.ItemCountV1{Item: item, Count: a.Inventory[item]})
		}
		snap.Agents = append(snap.Agents, av)
	}

	for _, id := range w.EntityIDs() {
		e := w.entities[id]
		ev := snapshot.EntityV1{ID: e.ID, Kind: e.Kind, Owner: e.Owner, Pos: [2]int{e.X, e.Y}}
		keys := make([]string, 0, len(e.Props))
		for k := range e.Props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ev.Props = append(ev.Props, snapshot.PropV1{Key: k, Value: e.Props[k]})
		}
		snap.Entities = append(snap.Entities, ev)
	}

	for _, id := range w.LawIDs() {
		l := w.laws[id]
		lv := snapshot.LawV1{
			ID: l.ID, Title: l.Title, Expr: l.Expr, Status: l.Status,
			ProposedBy: l.ProposedBy, ProposedTick: l.ProposedTick,
		}
		voters := make([]uint64, 0, len(l.Votes))
		for v := range l.Votes {
			voters = append(voters, v)
		}
		sort.Slice(voters, func(i, j int) bool { return voters[i] < voters[j] })
		for _, v := range voters {
			lv.Votes = append(lv.Votes, snapshot.VoteV1{Voter: v, Choice: l.Votes[v]})
		}
		snap.Laws = append(snap.Laws, lv)
	}

	return snap
}

// ImportSnapshot rebuilds a world from snapshot content.
func ImportSnapshot(worldID string, snap snapshot.SnapshotV1) (*World, error) {
	terrain, err := DecodeTerrain(snap.TerrainR, snap.TerrainRLE)
	if err != nil {
		return nil, err
	}

	w := &World{
		ID:            worldID,
		Seed:          snap.Seed,
		Tuning:        snap.Tuning.Tuning(),
		policyVersion: snap.PolicyVersion,
		nextEntityID:  snap.NextEntityID,
		agents:        make(map[uint64]*Agent, len(snap.Agents)),
		entities:      make(map[uint64]*Entity, len(snap.Entities)),
		laws:          make(map[string]*Law, len(snap.Laws)),
		terrain:       terrain,
	}

	for _, av := range snap.Agents {
		if _, dup := w.agents[av.ID]; dup {
			return nil, fmt.Errorf("snapshot: duplicate agent %d", av.ID)
		}
		a := &Agent{
			ID: av.ID, Name: av.Name, Role: av.Role,
			X: av.Pos[0], Y: av.Pos[1], Health: av.Health, Energy: av.Energy, Mood: av.Mood,
			Inventory: make(map[string]int, len(av.Inventory)),
		}
		for _, it := range av.Inventory {
			a.Inventory[it.Item] = it.Count
		}
		w.agents[a.ID] = a
	}

	for _, ev := range snap.Entities {
		if _, dup := w.entities[ev.ID]; dup {
			return nil, fmt.Errorf("snapshot: duplicate entity %d", ev.ID)
		}
		e := &Entity{
			ID: ev.ID, Kind: ev.Kind, Owner: ev.Owner,
			X: ev.Pos[0], Y: ev.Pos[1],
			Props: make(map[string]string, len(ev.Props)),
		}
		for _, p := range ev.Props {
			e.Props[p.Key] = p.Value
		}
		w.entities[e.ID] = e
	}

	for _, lv := range snap.Laws {
		if _, dup := w.laws[lv.ID]; dup {
			return nil, fmt.Errorf("snapshot: duplicate law %q", lv.ID)
		}
		l := &Law{
			ID: lv.ID, Title: lv.Title, Expr: lv.Expr, Status: lv.Status,
			ProposedBy: lv.ProposedBy, ProposedTick: lv.ProposedTick,
			Votes: make(map[uint64]string, len(lv.Votes)),
		}
		for _, v := range lv.Votes {
			l.Votes[v.Voter] = v.Choice
		}
		w.laws[l.ID] = l
	}

	return w, nil
}
