package domain

import (
	"gridwarden.ai/internal/protocol"
)

// Intent is the normalized form of a payload: one flat record the later
// stages read without touching the wire variant again. Building an intent
// never consults world state.
type Intent struct {
	Kind string

	DX, DY int

	TargetEntity uint64

	CellX, CellY int

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
	Choice   string
}

// BuildIntent flattens a schema-valid payload. Payloads reach this point
// already validated, so an unknown kind carries through and fails in
// physics rather than panicking here.
func BuildIntent(p protocol.Payload) Intent {
	in := Intent{Kind: p.Kind}
	switch p.Kind {
	case protocol.KindMove:
		in.DX, in.DY = p.Move.DX, p.Move.DY
	case protocol.KindGather:
		in.TargetEntity = p.Gather.EntityID
	case protocol.KindMine:
		in.CellX, in.CellY = p.Mine.X, p.Mine.Y
	case protocol.KindCraft:
		in.Recipe, in.Count = p.Craft.Recipe, p.Craft.Count
	case protocol.KindBuild:
		in.CellX, in.CellY, in.Block = p.Build.X, p.Build.Y, p.Build.Block
	case protocol.KindChat:
		in.Channel, in.Text = p.Chat.Channel, p.Chat.Text
	case protocol.KindToolUse:
		in.TargetEntity, in.Action = p.ToolUse.EntityID, p.ToolUse.Action
	case protocol.KindTransfer:
		in.TargetEntity, in.ToAgent = p.Transfer.EntityID, p.Transfer.ToAgent
	case protocol.KindAdmin:
		in.AdminOp, in.AdminAgent, in.AdminRole = p.Admin.Op, p.Admin.Agent, p.Admin.Role
	case protocol.KindLawProposal:
		in.LawID, in.LawTitle, in.LawExpr = p.LawProposal.LawID, p.LawProposal.Title, p.LawProposal.Expr
	case protocol.KindVote:
		in.LawID, in.Choice = p.Vote.LawID, p.Vote.Choice
	}
	return in
}
