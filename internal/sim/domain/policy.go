package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/world"
)

// Policy evaluates the enacted law registry against each event. Laws are
// CEL expressions over three inputs:
//
//	event  the payload object, e.g. {"kind": "MINE", "mine": {"x": 1, "y": 0}}
//	agent  {"id", "x", "y", "energy", "role"} of the actor
//	tick   the event tick
//
// A law that yields false vetoes the event with reason POLICY_<law_id>.
// The compiled set tracks the world's policy version; a VOTE that enacts a
// law mid-tick binds from the next event on.
type Policy struct {
	env      *cel.Env
	version  uint64
	programs []compiledLaw
}

type compiledLaw struct {
	id  string
	prg cel.Program
}

// NewPolicy compiles the enacted laws at the given policy version. Genesis
// laws that do not compile fail construction; boot should refuse them.
func NewPolicy(laws []*world.Law, version uint64) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.DynType),
		cel.Variable("agent", cel.DynType),
		cel.Variable("tick", cel.UintType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("policy env: %w", err)
	}
	p := &Policy{env: env}
	if err := p.Rebuild(laws, version); err != nil {
		return nil, err
	}
	return p, nil
}

// Version is the policy version the compiled set reflects.
func (p *Policy) Version() uint64 { return p.version }

// Rebuild recompiles the rule set for a new policy version. Runtime exprs
// were compile-checked at proposal time, so a failure here means the
// registry itself is corrupt; the caller must halt, not skip.
func (p *Policy) Rebuild(laws []*world.Law, version uint64) error {
	programs := make([]compiledLaw, 0, len(laws))
	for _, l := range laws {
		prg, err := p.compile(l.Expr)
		if err != nil {
			return fmt.Errorf("law %s: %w", l.ID, err)
		}
		programs = append(programs, compiledLaw{id: l.ID, prg: prg})
	}
	p.programs = programs
	p.version = version
	return nil
}

// CheckExpr compiles an expression without installing it. Volition uses it
// to keep uncompilable proposals out of the registry.
func (p *Policy) CheckExpr(expr string) error {
	_, err := p.compile(expr)
	return err
}

func (p *Policy) compile(expr string) (cel.Program, error) {
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := p.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

// Evaluate runs every enacted law against the event in lexical law order.
// The first law that forbids it wins; evaluation errors and non-boolean
// results veto rather than pass.
func (p *Policy) Evaluate(actor *world.Agent, ev protocol.InputEvent) *Veto {
	if len(p.programs) == 0 {
		return nil
	}
	input := map[string]any{
		"event": eventInput(ev.Payload),
		"agent": agentInput(actor),
		"tick":  ev.Tick,
	}
	for _, cl := range p.programs {
		out, _, err := cl.prg.Eval(input)
		if err != nil {
			return vetof(protocol.VetoPolicyPrefix+cl.id, "law %s evaluation: %v", cl.id, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return vetof(protocol.VetoPolicyPrefix+cl.id, "law %s did not yield a boolean", cl.id)
		}
		if !allowed {
			return vetof(protocol.VetoPolicyPrefix+cl.id, "law %s forbids %s", cl.id, ev.Payload.Kind)
		}
	}
	return nil
}

func eventInput(p protocol.Payload) map[string]any {
	raw, _ := json.Marshal(p)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func agentInput(a *world.Agent) map[string]any {
	if a == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":     int64(a.ID),
		"x":      int64(a.X),
		"y":      int64(a.Y),
		"energy": int64(a.Energy),
		"role":   a.Role,
	}
}
