// Package pipeline runs each input event through the ordered authority
// stages. Stages 1-8 validate without touching world state; Commit is the
// sole mutator; every outcome, veto or commit, emits observations.
package pipeline

import (
	"fmt"
	"log/slog"

	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/domain"
	"gridwarden.ai/internal/sim/rng"
	"gridwarden.ai/internal/sim/world"
)

// PerceptionStage builds the actor's observable subset (stage 3).
type PerceptionStage interface {
	View(w *world.World, actor *world.Agent) domain.View
}

// VolitionStage turns intents into concrete plans, drawing randomness as
// needed (stage 5).
type VolitionStage interface {
	Plan(v domain.View, in domain.Intent, r *rng.Rng) domain.Plan
}

// BioStage vetoes plans the actor's body cannot sustain (stage 6).
type BioStage interface {
	Evaluate(actor *world.Agent, p domain.Plan) *domain.Veto
}

// PhysicsStage vetoes plans the world geometry forbids (stage 7).
type PhysicsStage interface {
	Evaluate(w *world.World, actor *world.Agent, p domain.Plan) *domain.Veto
}

// PolicyStage evaluates the enacted law registry (stage 8). Rebuild is
// invoked when the world's policy version moves past the compiled set.
type PolicyStage interface {
	Evaluate(actor *world.Agent, ev protocol.InputEvent) *domain.Veto
	Version() uint64
	Rebuild(laws []*world.Law, version uint64) error
}

// Stages wires the validating collaborators supplied at construction.
type Stages struct {
	Perception PerceptionStage
	Volition   VolitionStage
	Bio        BioStage
	Physics    PhysicsStage
	Policy     PolicyStage
}

// Defaults returns the production collaborators for a world's tuning.
// CheckExpr keeps uncompilable law proposals out of the registry.
func Defaults(w *world.World, policy *domain.Policy) Stages {
	return Stages{
		Perception: domain.Perception{},
		Volition:   domain.Planner{CheckExpr: policy.CheckExpr},
		Bio:        domain.Bio{Tuning: w.Tuning},
		Physics:    domain.Physics{},
		Policy:     policy,
	}
}

type Pipeline struct {
	stages Stages
	log    *slog.Logger
}

func New(stages Stages, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{stages: stages, log: log.With("component", "pipeline")}
}

// Process runs one event through all ten stages. seq is the event's log
// sequence, stamped on observations as CausedBy. The returned error is
// fatal (registry corruption, marshal failure); vetoes are Results.
func (p *Pipeline) Process(w *world.World, r *rng.Rng, seq uint64, ev protocol.InputEvent) (Result, error) {
	// Stage 1: SchemaValidate.
	if err := ev.Payload.ValidateSchema(); err != nil {
		return p.veto(seq, ev, SchemaInvalid, StageSchema,
			&domain.Veto{Reason: protocol.VetoSchemaInvalid, Message: err.Error()})
	}

	// Stage 2: Authorization.
	if ev.Payload.Kind == protocol.KindBoot {
		// The boot event anchors the chain; it carries no world change and
		// skips the domain stages.
		return p.committed(seq, ev, 0, nil)
	}
	actor := w.Agent(ev.Source)
	if actor == nil {
		return p.veto(seq, ev, Unauthorized, StageAuthorization,
			&domain.Veto{Reason: protocol.VetoUnauthorized, Message: fmt.Sprintf("source %d has no agent record", ev.Source)})
	}
	if v := authorize(actor, ev.Payload); v != nil {
		return p.veto(seq, ev, Unauthorized, StageAuthorization, v)
	}

	// Stage 3: Perception. Stage 4: Intent. Stage 5: Volition.
	view := p.stages.Perception.View(w, actor)
	intent := domain.BuildIntent(ev.Payload)
	plan := p.stages.Volition.Plan(view, intent, r)

	// Stage 6: BioVeto.
	if v := p.stages.Bio.Evaluate(actor, plan); v != nil {
		return p.veto(seq, ev, BioVetoed, StageBio, v)
	}

	// Stage 7: PhysicsValidate.
	if v := p.stages.Physics.Evaluate(w, actor, plan); v != nil {
		return p.veto(seq, ev, PhysicsVetoed, StagePhysics, v)
	}

	// Stage 8: PolicyValidate. A vote enacted earlier in this tick binds
	// here, so the compiled set follows the world's policy version.
	if p.stages.Policy.Version() != w.PolicyVersion() {
		if err := p.stages.Policy.Rebuild(w.EnactedLaws(), w.PolicyVersion()); err != nil {
			return Result{}, fmt.Errorf("policy rebuild to version %d: %w", w.PolicyVersion(), err)
		}
	}
	if v := p.stages.Policy.Evaluate(actor, ev); v != nil {
		return p.veto(seq, ev, PolicyVetoed, StagePolicy, v)
	}

	// Stage 9: Commit.
	diffs := commit(w, actor, plan, ev.Tick)

	// Stage 10: ObservationEmit.
	return p.committed(seq, ev, actor.ID, diffs)
}

// authorize enforces the role rules: read-only roles may not mutate, and
// admin ops need the admin role. Chat is open to every known source.
func authorize(actor *world.Agent, payload protocol.Payload) *domain.Veto {
	switch actor.Role {
	case world.RoleObserver, world.RoleAuditor:
		if payload.Mutating() {
			return &domain.Veto{
				Reason:  protocol.VetoUnauthorized,
				Message: fmt.Sprintf("role %s may not submit %s", actor.Role, payload.Kind),
			}
		}
	}
	if payload.Kind == protocol.KindAdmin && actor.Role != world.RoleAdmin {
		return &domain.Veto{
			Reason:  protocol.VetoUnauthorized,
			Message: fmt.Sprintf("role %s may not submit %s", actor.Role, payload.Kind),
		}
	}
	return nil
}

// commit applies the plan. Validators already passed, so the world mutators
// run unconditionally; chat contributes an observation diff only.
func commit(w *world.World, actor *world.Agent, p domain.Plan, tick uint64) []protocol.FieldDiff {
	switch p.Kind {
	case protocol.KindMove:
		return w.ApplyMove(actor, p.ToX-p.FromX, p.ToY-p.FromY)
	case protocol.KindGather:
		return w.ApplyGather(actor, p.Target, p.Yield)
	case protocol.KindMine:
		return w.ApplyMine(actor, p.CellX, p.CellY, p.Yield)
	case protocol.KindCraft:
		return w.ApplyCraft(actor, p.Recipe, p.Count)
	case protocol.KindBuild:
		return w.ApplyBuild(actor, p.CellX, p.CellY, p.Block)
	case protocol.KindToolUse:
		return w.ApplyToolUse(actor, p.Target, p.Action)
	case protocol.KindTransfer:
		return w.ApplyTransfer(p.Target, p.ToAgent)
	case protocol.KindAdmin:
		return w.ApplySetRole(w.Agent(p.AdminAgent), p.AdminRole)
	case protocol.KindLawProposal:
		return w.ApplyLawProposal(actor, p.LawID, p.LawTitle, p.LawExpr, tick)
	case protocol.KindVote:
		return w.ApplyVote(actor, p.LawID, p.Choice)
	case protocol.KindChat:
		return []protocol.FieldDiff{{Field: "chat." + p.Channel, Old: "", New: p.Text}}
	default:
		return nil
	}
}

func (p *Pipeline) veto(seq uint64, ev protocol.InputEvent, st Status, stage string, v *domain.Veto) (Result, error) {
	obs, err := protocol.NewObservation(ev.Tick, seq, protocol.ObsVetoRecorded, protocol.VetoObs{
		Source:  ev.Source,
		Kind:    ev.Payload.Kind,
		Stage:   stage,
		Reason:  v.Reason,
		Message: v.Message,
	})
	if err != nil {
		return Result{}, err
	}
	p.log.Debug("veto",
		"tick", ev.Tick, "seq", seq, "source", ev.Source,
		"kind", ev.Payload.Kind, "stage", stage, "reason", v.Reason)
	return Result{
		Status:       st,
		Stage:        stage,
		Reason:       v.Reason,
		Message:      v.Message,
		Observations: []protocol.ObservationEvent{obs},
	}, nil
}

func (p *Pipeline) committed(seq uint64, ev protocol.InputEvent, agentID uint64, diffs []protocol.FieldDiff) (Result, error) {
	if diffs == nil {
		diffs = []protocol.FieldDiff{}
	}
	obs, err := protocol.NewObservation(ev.Tick, seq, protocol.ObsStateDiff, protocol.StateDiffObs{
		Agent:   agentID,
		Changes: diffs,
	})
	if err != nil {
		return Result{}, err
	}
	p.log.Debug("commit",
		"tick", ev.Tick, "seq", seq, "source", ev.Source,
		"kind", ev.Payload.Kind, "changes", len(diffs))
	return Result{
		Status:       Committed,
		Diffs:        diffs,
		Observations: []protocol.ObservationEvent{obs},
	}, nil
}
