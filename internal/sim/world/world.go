// Package world holds the deterministic state for one grid world: agents,
// entities, laws, and terrain. The authority goroutine owns a World
// exclusively; all mutation happens in the Commit stage, everything before
// it reads.
package world

import (
	"encoding/binary"
	"fmt"
	"sort"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/rng"
)

type World struct {
	ID     string
	Seed   uint64
	Tuning config.Tuning

	policyVersion uint64
	nextEntityID  uint64

	agents   map[uint64]*Agent
	entities map[uint64]*Entity
	laws     map[string]*Law
	terrain  *Terrain
}

// NewGenesis builds the deterministic genesis world for a seed. Terrain
// comes from a derived sub-seed, founder agents and assets sit at fixed
// cells, and resource nodes scatter from Environment-stream draws, so
// identical seeds yield identical worlds.
func NewGenesis(worldID string, seed uint64, tune config.Tuning, laws config.LawSet, r *rng.Rng) *World {
	w := &World{
		ID:            worldID,
		Seed:          seed,
		Tuning:        tune,
		policyVersion: laws.Version,
		nextEntityID:  1000,
		agents:        make(map[uint64]*Agent),
		entities:      make(map[uint64]*Entity),
		laws:          make(map[string]*Law),
	}

	ts := rng.DeriveSeed(seed, "terrain")
	w.terrain = GenerateTerrain(binary.LittleEndian.Uint64(ts[:8]), tune.WorldBoundaryR)

	w.agents[1] = &Agent{ID: 1, Name: "founder_a", Role: RoleAdmin, X: 0, Y: 0, Health: 100, Energy: 100, Mood: 50, Inventory: map[string]int{}}
	w.agents[2] = &Agent{ID: 2, Name: "founder_b", Role: RoleAgent, X: 1, Y: 0, Health: 100, Energy: 100, Mood: 50, Inventory: map[string]int{}}

	w.entities[100] = &Entity{ID: 100, Kind: EntityHouse, Owner: 1, X: 0, Y: 0, Props: map[string]string{}}
	w.entities[101] = &Entity{ID: 101, Kind: EntityShed, Owner: 2, X: 1, Y: 0, Props: map[string]string{}}
	w.entities[102] = &Entity{ID: 102, Kind: EntityTool, Owner: 1, X: 0, Y: 0, Props: map[string]string{"tool": "hammer"}}
	w.entities[103] = &Entity{ID: 103, Kind: EntityTool, Owner: 2, X: 1, Y: 0, Props: map[string]string{"tool": "wrench"}}

	const spread = 12
	for i := uint64(0); i < 8; i++ {
		x := int(r.Range(rng.Environment, 0, "genesis.resource_x", 0, 2*spread+1)) - spread
		y := int(r.Range(rng.Environment, 0, "genesis.resource_y", 0, 2*spread+1)) - spread
		if withinSpawnClear(x, y, spawnClearRadius) {
			continue
		}
		resource := "wood"
		if i%2 == 1 {
			resource = "stone"
		}
		id := 200 + i
		w.entities[id] = &Entity{ID: id, Kind: EntityResource, Owner: 0, X: x, Y: y, Props: map[string]string{"resource": resource}}
	}

	for _, l := range laws.Laws {
		status := LawProposed
		if l.Enabled {
			status = LawEnacted
		}
		w.laws[l.ID] = &Law{ID: l.ID, Title: l.Title, Expr: l.Expr, Status: status, Votes: map[uint64]string{}}
	}

	return w
}

func (w *World) Agent(id uint64) *Agent      { return w.agents[id] }
func (w *World) Entity(id uint64) *Entity    { return w.entities[id] }
func (w *World) Law(id string) *Law          { return w.laws[id] }
func (w *World) Terrain() *Terrain           { return w.terrain }
func (w *World) PolicyVersion() uint64       { return w.policyVersion }
func (w *World) AgentCount() int             { return len(w.agents) }

// AgentIDs returns all agent ids in ascending order.
func (w *World) AgentIDs() []uint64 {
	ids := make([]uint64, 0, len(w.agents))
	for id := range w.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EntityIDs returns all entity ids in ascending order.
func (w *World) EntityIDs() []uint64 {
	ids := make([]uint64, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LawIDs returns all law ids in lexical order.
func (w *World) LawIDs() []string {
	ids := make([]string, 0, len(w.laws))
	for id := range w.laws {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EnactedLaws returns the enforced rule set in lexical id order.
func (w *World) EnactedLaws() []*Law {
	var out []*Law
	for _, id := range w.LawIDs() {
		if l := w.laws[id]; l.Status == LawEnacted {
			out = append(out, l)
		}
	}
	return out
}

// AgentAt returns the agent occupying a cell, or nil. Iteration is in id
// order so ties cannot depend on map order.
func (w *World) AgentAt(x, y int) *Agent {
	for _, id := range w.AgentIDs() {
		a := w.agents[id]
		if a.X == x && a.Y == y {
			return a
		}
	}
	return nil
}

// EntityAt returns the first entity of a kind at a cell in id order, or nil.
func (w *World) EntityAt(x, y int, kind string) *Entity {
	for _, id := range w.EntityIDs() {
		e := w.entities[id]
		if e.X == x && e.Y == y && (kind == "" || e.Kind == kind) {
			return e
		}
	}
	return nil
}

// AgentsWithin returns agents with squared distance <= r*r from (x, y),
// ascending by id.
func (w *World) AgentsWithin(x, y, r int) []*Agent {
	var out []*Agent
	for _, id := range w.AgentIDs() {
		a := w.agents[id]
		if distSq(a.X, a.Y, x, y) <= r*r {
			out = append(out, a)
		}
	}
	return out
}

// EntitiesWithin returns entities with squared distance <= r*r from (x, y),
// ascending by id.
func (w *World) EntitiesWithin(x, y, r int) []*Entity {
	var out []*Entity
	for _, id := range w.EntityIDs() {
		e := w.entities[id]
		if distSq(e.X, e.Y, x, y) <= r*r {
			out = append(out, e)
		}
	}
	return out
}

func distSq(ax, ay, bx, by int) int {
	dx := ax - bx
	dy := ay - by
	return dx*dx + dy*dy
}

// SpawnEntity places a new entity under the next free id. Commit-stage
// builds and world fixtures allocate through the same counter so ids never
// collide.
func (w *World) SpawnEntity(kind string, owner uint64, x, y int, props map[string]string) *Entity {
	if props == nil {
		props = map[string]string{}
	}
	id := w.nextEntityID
	w.nextEntityID++
	e := &Entity{ID: id, Kind: kind, Owner: owner, X: x, Y: y, Props: props}
	w.entities[id] = e
	return e
}

// --- Commit-stage mutators. Each returns the field diffs it caused. ---

// ApplyMove relocates the agent and charges the move cost.
func (w *World) ApplyMove(a *Agent, dx, dy int) []protocol.FieldDiff {
	oldX, oldY := a.X, a.Y
	a.X += dx
	a.Y += dy
	diffs := []protocol.FieldDiff{fieldDiff("pos", fmt.Sprintf("%d,%d", oldX, oldY), fmt.Sprintf("%d,%d", a.X, a.Y))}
	diffs = append(diffs, w.chargeEnergy(a, w.Tuning.Energy.Move.Cost)...)
	return diffs
}

// ApplyGather consumes a resource node into the agent's inventory.
func (w *World) ApplyGather(a *Agent, e *Entity, yield int) []protocol.FieldDiff {
	resource := e.Props["resource"]
	old := a.Inventory[resource]
	a.Inventory[resource] = old + yield
	delete(w.entities, e.ID)
	diffs := []protocol.FieldDiff{
		fieldDiff("inventory."+resource, old, old+yield),
		fieldDiff("entity", e.ID, "gone"),
	}
	diffs = append(diffs, w.chargeEnergy(a, w.Tuning.Energy.Gather.Cost)...)
	return diffs
}

// ApplyMine lowers the terrain cell, removes any placed block on it, and
// yields stone.
func (w *World) ApplyMine(a *Agent, x, y, yield int) []protocol.FieldDiff {
	oldH := w.terrain.Height(x, y)
	w.terrain.SetHeight(x, y, oldH-1)
	old := a.Inventory["stone"]
	a.Inventory["stone"] = old + yield
	diffs := []protocol.FieldDiff{
		fieldDiff(fmt.Sprintf("terrain.%d,%d", x, y), oldH, oldH-1),
		fieldDiff("inventory.stone", old, old+yield),
	}
	if b := w.EntityAt(x, y, EntityBlock); b != nil {
		delete(w.entities, b.ID)
		diffs = append(diffs, fieldDiff("entity", b.ID, "gone"))
	}
	diffs = append(diffs, w.chargeEnergy(a, w.Tuning.Energy.Mine.Cost)...)
	return diffs
}

// ApplyCraft consumes the recipe inputs and adds the product.
func (w *World) ApplyCraft(a *Agent, recipe string, count int) []protocol.FieldDiff {
	var diffs []protocol.FieldDiff
	for _, in := range RecipeInputs(recipe) {
		old := a.Inventory[in.Item]
		a.Inventory[in.Item] = old - in.N*count
		if a.Inventory[in.Item] == 0 {
			delete(a.Inventory, in.Item)
		}
		diffs = append(diffs, fieldDiff("inventory."+in.Item, old, old-in.N*count))
	}
	old := a.Inventory[recipe]
	a.Inventory[recipe] = old + count
	diffs = append(diffs, fieldDiff("inventory."+recipe, old, old+count))
	diffs = append(diffs, w.chargeEnergy(a, w.Tuning.Energy.Craft.Cost)...)
	return diffs
}

// ApplyBuild places a block entity and raises the terrain cell.
func (w *World) ApplyBuild(a *Agent, x, y int, block string) []protocol.FieldDiff {
	old := a.Inventory[block]
	a.Inventory[block] = old - 1
	if a.Inventory[block] == 0 {
		delete(a.Inventory, block)
	}
	placed := w.SpawnEntity(EntityBlock, a.ID, x, y, map[string]string{"block": block})
	oldH := w.terrain.Height(x, y)
	w.terrain.SetHeight(x, y, oldH+1)
	diffs := []protocol.FieldDiff{
		fieldDiff("inventory."+block, old, old-1),
		fieldDiff("entity", "none", placed.ID),
		fieldDiff(fmt.Sprintf("terrain.%d,%d", x, y), oldH, oldH+1),
	}
	diffs = append(diffs, w.chargeEnergy(a, w.Tuning.Energy.Build.Cost)...)
	return diffs
}

// ApplyToolUse marks the tool and lifts the agent's mood.
func (w *World) ApplyToolUse(a *Agent, e *Entity, action string) []protocol.FieldDiff {
	oldAction := e.Props["last_action"]
	e.Props["last_action"] = action
	oldMood := a.Mood
	if a.Mood < 100 {
		a.Mood++
	}
	diffs := []protocol.FieldDiff{
		fieldDiff(fmt.Sprintf("entity.%d.last_action", e.ID), oldAction, action),
		fieldDiff("mood", oldMood, a.Mood),
	}
	diffs = append(diffs, w.chargeEnergy(a, w.Tuning.Energy.ToolUse.Cost)...)
	return diffs
}

// ApplyTransfer reassigns entity ownership.
func (w *World) ApplyTransfer(e *Entity, to uint64) []protocol.FieldDiff {
	old := e.Owner
	e.Owner = to
	return []protocol.FieldDiff{fieldDiff(fmt.Sprintf("entity.%d.owner", e.ID), old, to)}
}

// ApplySetRole changes an agent's role.
func (w *World) ApplySetRole(target *Agent, role string) []protocol.FieldDiff {
	old := target.Role
	target.Role = role
	return []protocol.FieldDiff{fieldDiff(fmt.Sprintf("agent.%d.role", target.ID), old, role)}
}

// ApplyLawProposal registers a new proposed law.
func (w *World) ApplyLawProposal(proposer *Agent, id, title, expr string, tick uint64) []protocol.FieldDiff {
	w.laws[id] = &Law{
		ID:           id,
		Title:        title,
		Expr:         expr,
		Status:       LawProposed,
		ProposedBy:   proposer.ID,
		ProposedTick: tick,
		Votes:        map[uint64]string{},
	}
	return []protocol.FieldDiff{fieldDiff("law."+id, "none", LawProposed)}
}

// ApplyVote records a vote. A strict majority of living agents enacts or
// rejects; enacting bumps the policy version.
func (w *World) ApplyVote(voter *Agent, lawID, choice string) []protocol.FieldDiff {
	l := w.laws[lawID]
	old := l.Votes[voter.ID]
	l.Votes[voter.ID] = choice
	diffs := []protocol.FieldDiff{fieldDiff(fmt.Sprintf("law.%s.vote.%d", lawID, voter.ID), old, choice)}

	majority := len(w.agents)/2 + 1
	switch {
	case l.YesVotes() >= majority:
		l.Status = LawEnacted
		w.policyVersion++
		diffs = append(diffs,
			fieldDiff("law."+lawID, LawProposed, LawEnacted),
			fieldDiff("policy_version", w.policyVersion-1, w.policyVersion))
	case l.NoVotes() >= majority:
		l.Status = LawRejected
		diffs = append(diffs, fieldDiff("law."+lawID, LawProposed, LawRejected))
	}
	return diffs
}

// ApplyRegen tops up every agent's energy. Runs on the regen cadence from
// tuning; emits no observations, the tick checkpoint covers it.
func (w *World) ApplyRegen(amount int) {
	for _, id := range w.AgentIDs() {
		a := w.agents[id]
		a.Energy += amount
		if a.Energy > 100 {
			a.Energy = 100
		}
	}
}

func (w *World) chargeEnergy(a *Agent, cost int) []protocol.FieldDiff {
	if cost == 0 {
		return nil
	}
	old := a.Energy
	a.Energy -= cost
	if a.Energy < 0 {
		a.Energy = 0
	}
	return []protocol.FieldDiff{fieldDiff("energy", old, a.Energy)}
}

func fieldDiff(field string, old, new any) protocol.FieldDiff {
	return protocol.FieldDiff{Field: field, Old: fmt.Sprint(old), New: fmt.Sprint(new)}
}

// RecipeInput is one ingredient line of a recipe.
type RecipeInput struct {
	Item string
	N    int
}

// RecipeInputs is the fixed craft book. Physics rejects unknown recipes and
// missing ingredients before Commit.
func RecipeInputs(recipe string) []RecipeInput {
	switch recipe {
	case "stone_pick":
		return []RecipeInput{{Item: "stone", N: 3}}
	case "torch":
		return []RecipeInput{{Item: "wood", N: 1}}
	default:
		return nil
	}
}

// KnownRecipe reports whether the craft book has the recipe.
func KnownRecipe(recipe string) bool { return RecipeInputs(recipe) != nil }
