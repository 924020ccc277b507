package domain

import (
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/rng"
	"gridwarden.ai/internal/sim/world"
)

// Plan is the concrete action the Commit stage will apply if every
// validator passes. Entity references are resolved against the view; a nil
// Target means the intent named something the actor cannot interact with.
type Plan struct {
	Kind string

	// Move: source and destination cells.
	FromX, FromY int
	ToX, ToY     int

	// Mine and build cell.
	CellX, CellY int

	// Resolved interaction target (gather, tool_use, transfer).
	Target *world.Entity

	// Gather and mine output.
	Yield int

	Recipe string
	Count  int

	Block string

	Action string

	ToAgent uint64

	Channel string
	Text    string

	AdminOp    string
	AdminAgent uint64
	AdminRole  string

	LawID    string
	LawTitle string
	LawExpr  string
	// ExprErr carries the compile failure for a proposed law, checked here
	// so a law that cannot compile never enters the registry.
	ExprErr string
	Choice  string
}

// Planner turns intents into plans. CheckExpr is the policy engine's
// compile probe for proposed laws.
type Planner struct {
	CheckExpr func(expr string) error
}

// Plan resolves the intent against the view and draws whatever randomness
// the action needs. Draws happen here and only here, so the draw sequence
// depends solely on the event order.
func (pl Planner) Plan(v View, in Intent, r *rng.Rng) Plan {
	p := Plan{Kind: in.Kind}
	switch in.Kind {
	case protocol.KindMove:
		p.FromX, p.FromY = v.Actor.X, v.Actor.Y
		p.ToX, p.ToY = v.Actor.X+in.DX, v.Actor.Y+in.DY
	case protocol.KindGather:
		if e := v.Entity(in.TargetEntity); e != nil && e.Kind == world.EntityResource {
			p.Target = e
		}
		p.Yield = 1
	case protocol.KindMine:
		p.CellX, p.CellY = in.CellX, in.CellY
		p.Yield = 1 + int(r.Draw(rng.Physics, 0, "volition.mine_yield")%2)
	case protocol.KindCraft:
		p.Recipe, p.Count = in.Recipe, in.Count
	case protocol.KindBuild:
		p.CellX, p.CellY, p.Block = in.CellX, in.CellY, in.Block
	case protocol.KindChat:
		p.Channel, p.Text = in.Channel, in.Text
	case protocol.KindToolUse:
		if e := v.Entity(in.TargetEntity); e != nil && e.Kind == world.EntityTool {
			p.Target = e
		}
		p.Action = in.Action
	case protocol.KindTransfer:
		p.Target = v.Entity(in.TargetEntity)
		p.ToAgent = in.ToAgent
	case protocol.KindAdmin:
		p.AdminOp, p.AdminAgent, p.AdminRole = in.AdminOp, in.AdminAgent, in.AdminRole
	case protocol.KindLawProposal:
		p.LawID, p.LawTitle, p.LawExpr = in.LawID, in.LawTitle, in.LawExpr
		if pl.CheckExpr != nil {
			if err := pl.CheckExpr(in.LawExpr); err != nil {
				p.ExprErr = err.Error()
			}
		}
	case protocol.KindVote:
		p.LawID, p.Choice = in.LawID, in.Choice
	}
	return p
}
