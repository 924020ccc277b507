package domain

import (
	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/world"
)

// Bio vetoes actions the actor's body cannot afford. Thresholds are
// exclusive minimums from tuning; the commit cost is charged separately.
type Bio struct {
	Tuning config.Tuning
}

// Evaluate checks the energy precondition for the planned action. Kinds
// without a tuned threshold (chat, governance, admin, transfer) pass.
func (b Bio) Evaluate(actor *world.Agent, p Plan) *Veto {
	var req config.ActionEnergy
	switch p.Kind {
	case protocol.KindMove:
		req = b.Tuning.Energy.Move
	case protocol.KindToolUse:
		req = b.Tuning.Energy.ToolUse
	case protocol.KindGather:
		req = b.Tuning.Energy.Gather
	case protocol.KindMine:
		req = b.Tuning.Energy.Mine
	case protocol.KindCraft:
		req = b.Tuning.Energy.Craft
	case protocol.KindBuild:
		req = b.Tuning.Energy.Build
	default:
		return nil
	}
	if actor.Energy <= req.Min {
		return vetof(protocol.VetoBioEnergy, "%s needs energy > %d, agent %d has %d",
			p.Kind, req.Min, actor.ID, actor.Energy)
	}
	return nil
}
