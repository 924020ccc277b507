// Package domain holds the pipeline's validating collaborators: perception,
// intent, volition, bio, physics, and policy. Everything here is
// deterministic and side-effect free; the Commit stage in the pipeline is
// the only writer.
package domain

import (
	"fmt"

	"gridwarden.ai/internal/sim/world"
)

// Veto is a refusal from one validating stage: a machine-readable reason
// plus a human message. Vetoes are results, not errors.
type Veto struct {
	Reason  string
	Message string
}

func vetof(reason, format string, args ...any) *Veto {
	return &Veto{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// View is the observable subset of the world for one actor at one event:
// agents and entities within the perception radius, in ascending id order.
type View struct {
	Actor    *world.Agent
	Radius   int
	Agents   []*world.Agent
	Entities []*world.Entity
}

// Agent resolves an agent id against the view.
func (v View) Agent(id uint64) *world.Agent {
	for _, a := range v.Agents {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Entity resolves an entity id against the view. Anything outside the
// radius does not resolve; interaction targets must be perceivable.
func (v View) Entity(id uint64) *world.Entity {
	for _, e := range v.Entities {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Perception builds actor views from the tuned radius.
type Perception struct{}

// View collects what the actor can currently observe.
func (Perception) View(w *world.World, actor *world.Agent) View {
	r := w.Tuning.PerceptionRadius
	return View{
		Actor:    actor,
		Radius:   r,
		Agents:   w.AgentsWithin(actor.X, actor.Y, r),
		Entities: w.EntitiesWithin(actor.X, actor.Y, r),
	}
}
