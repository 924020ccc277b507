package domain

import (
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/world"
)

// Physics vetoes plans the world geometry forbids: bounds, occupancy,
// climb, reach, ownership, and missing targets. Check order inside a kind
// is fixed so a given plan always refuses with the same reason.
type Physics struct{}

// Evaluate runs the per-kind rules. Read-only.
func (Physics) Evaluate(w *world.World, actor *world.Agent, p Plan) *Veto {
	switch p.Kind {
	case protocol.KindMove:
		return checkMove(w, actor, p)
	case protocol.KindGather:
		return checkReachTarget(w, actor, p.Target, "resource")
	case protocol.KindMine:
		return checkMine(w, actor, p)
	case protocol.KindCraft:
		return checkCraft(actor, p)
	case protocol.KindBuild:
		return checkBuild(w, actor, p)
	case protocol.KindToolUse:
		return checkReachTarget(w, actor, p.Target, "tool")
	case protocol.KindTransfer:
		return checkTransfer(w, actor, p)
	case protocol.KindAdmin:
		return checkAdmin(w, p)
	case protocol.KindLawProposal:
		return checkLawProposal(w, p)
	case protocol.KindVote:
		return checkVote(w, p)
	default:
		// Chat moves nothing through space.
		return nil
	}
}

func checkMove(w *world.World, actor *world.Agent, p Plan) *Veto {
	t := w.Terrain()
	if !t.InBounds(p.ToX, p.ToY) {
		return vetof(protocol.VetoPhysicsBounds, "cell (%d,%d) is outside the world boundary", p.ToX, p.ToY)
	}
	if occ := w.AgentAt(p.ToX, p.ToY); occ != nil && occ.ID != actor.ID {
		return vetof(protocol.VetoPhysicsCollision, "cell (%d,%d) is occupied by agent %d", p.ToX, p.ToY, occ.ID)
	}
	if rise := t.Height(p.ToX, p.ToY) - t.Height(p.FromX, p.FromY); rise > w.Tuning.ClimbLimit {
		return vetof(protocol.VetoPhysicsClimb, "rise of %d exceeds climb limit %d", rise, w.Tuning.ClimbLimit)
	}
	return nil
}

func checkMine(w *world.World, actor *world.Agent, p Plan) *Veto {
	t := w.Terrain()
	if !t.InBounds(p.CellX, p.CellY) {
		return vetof(protocol.VetoPhysicsBounds, "cell (%d,%d) is outside the world boundary", p.CellX, p.CellY)
	}
	if v := checkReachCell(w, actor, p.CellX, p.CellY); v != nil {
		return v
	}
	if t.Height(p.CellX, p.CellY) == 0 {
		return vetof(protocol.VetoPhysicsTarget, "nothing to mine at (%d,%d)", p.CellX, p.CellY)
	}
	return nil
}

func checkCraft(actor *world.Agent, p Plan) *Veto {
	if !world.KnownRecipe(p.Recipe) {
		return vetof(protocol.VetoPhysicsTarget, "unknown recipe %q", p.Recipe)
	}
	for _, in := range world.RecipeInputs(p.Recipe) {
		need := in.N * p.Count
		if actor.Inventory[in.Item] < need {
			return vetof(protocol.VetoPhysicsTarget, "recipe %s needs %d %s, agent %d has %d",
				p.Recipe, need, in.Item, actor.ID, actor.Inventory[in.Item])
		}
	}
	return nil
}

func checkBuild(w *world.World, actor *world.Agent, p Plan) *Veto {
	if !w.Terrain().InBounds(p.CellX, p.CellY) {
		return vetof(protocol.VetoPhysicsBounds, "cell (%d,%d) is outside the world boundary", p.CellX, p.CellY)
	}
	if v := checkReachCell(w, actor, p.CellX, p.CellY); v != nil {
		return v
	}
	if occ := w.AgentAt(p.CellX, p.CellY); occ != nil {
		return vetof(protocol.VetoPhysicsCollision, "cell (%d,%d) is occupied by agent %d", p.CellX, p.CellY, occ.ID)
	}
	if actor.Inventory[p.Block] < 1 {
		return vetof(protocol.VetoPhysicsTarget, "no %s in inventory to place", p.Block)
	}
	return nil
}

func checkTransfer(w *world.World, actor *world.Agent, p Plan) *Veto {
	if p.Target == nil {
		return vetof(protocol.VetoPhysicsTarget, "no such entity in view")
	}
	if v := checkReachCell(w, actor, p.Target.X, p.Target.Y); v != nil {
		return v
	}
	if p.Target.Owner != actor.ID {
		return vetof(protocol.VetoPhysicsOwnership, "entity %d belongs to agent %d", p.Target.ID, p.Target.Owner)
	}
	if w.Agent(p.ToAgent) == nil {
		return vetof(protocol.VetoPhysicsTarget, "unknown recipient agent %d", p.ToAgent)
	}
	return nil
}

func checkAdmin(w *world.World, p Plan) *Veto {
	// Op values are schema-constrained; set_role is the only one today.
	if w.Agent(p.AdminAgent) == nil {
		return vetof(protocol.VetoPhysicsTarget, "unknown agent %d", p.AdminAgent)
	}
	return nil
}

func checkLawProposal(w *world.World, p Plan) *Veto {
	if w.Law(p.LawID) != nil {
		return vetof(protocol.VetoPhysicsTarget, "law %s already exists", p.LawID)
	}
	if p.ExprErr != "" {
		return vetof(protocol.VetoPhysicsTarget, "law %s expr: %s", p.LawID, p.ExprErr)
	}
	return nil
}

func checkVote(w *world.World, p Plan) *Veto {
	l := w.Law(p.LawID)
	if l == nil {
		return vetof(protocol.VetoPhysicsTarget, "no such law %s", p.LawID)
	}
	if l.Status != world.LawProposed {
		return vetof(protocol.VetoPhysicsTarget, "law %s is %s, not open for votes", p.LawID, l.Status)
	}
	return nil
}

// checkReachTarget vetoes missing or out-of-reach interaction targets.
func checkReachTarget(w *world.World, actor *world.Agent, target *world.Entity, want string) *Veto {
	if target == nil {
		return vetof(protocol.VetoPhysicsTarget, "no such %s in view", want)
	}
	return checkReachCell(w, actor, target.X, target.Y)
}

func checkReachCell(w *world.World, actor *world.Agent, x, y int) *Veto {
	reach := w.Tuning.ReachLimit
	dx := actor.X - x
	dy := actor.Y - y
	if dx*dx+dy*dy > reach*reach {
		return vetof(protocol.VetoPhysicsReach, "cell (%d,%d) is beyond reach %d", x, y, reach)
	}
	return nil
}
