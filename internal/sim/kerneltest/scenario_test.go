package kerneltest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/world"
)

// Two founders race for the same cell. Founder A (agent 1, at 0,0) submits
// first, founder B (agent 2, at 1,0) second; sequence order within the tick
// decides, so A lands on (0,1) and B refuses with a collision.
func TestMoveConflictFirstSubmitterWins(t *testing.T) {
	h := NewHarness(t, 1337)
	h.ClearObs()

	h.Submit(1, Move(0, 1))
	h.Submit(2, Move(-1, 1))
	h.Advance(1)

	old, new, ok := h.DiffValue("pos")
	require.True(t, ok, "expected a committed move")
	require.Equal(t, "0,0", old)
	require.Equal(t, "0,1", new)

	v := h.RequireVeto(protocol.VetoPhysicsCollision)
	require.Equal(t, uint64(2), v.Source)
	require.Equal(t, "physics", v.Stage)
	require.Equal(t, protocol.KindMove, v.Kind)
}

// Reversed submission order reverses the outcome: identical intents, the
// log sequence alone resolves simultaneity.
func TestMoveConflictOrderDecides(t *testing.T) {
	h := NewHarness(t, 1337)
	h.ClearObs()

	h.Submit(2, Move(-1, 1))
	h.Submit(1, Move(0, 1))
	h.Advance(1)

	old, new, ok := h.DiffValue("pos")
	require.True(t, ok)
	require.Equal(t, "1,0", old)
	require.Equal(t, "0,1", new)

	v := h.RequireVeto(protocol.VetoPhysicsCollision)
	require.Equal(t, uint64(1), v.Source)
}

func TestMineInsideSpawnRingVetoedByLaw(t *testing.T) {
	h := NewHarness(t, 42)
	h.ClearObs()

	// (1,0) is flat spawn terrain within the protected ring; physics passes,
	// the genesis law refuses.
	h.Step(2, Mine(1, 0))

	v := h.RequireVeto("POLICY_spawn_ring_protected")
	require.Equal(t, "policy", v.Stage)
	require.Equal(t, protocol.KindMine, v.Kind)
	require.Empty(t, h.StateDiffs())
}

func TestMineCraftLifecycle(t *testing.T) {
	h := NewHarness(t, 42)
	h.ClearObs()

	// (3,0) is outside the protected ring but inside the levelled spawn
	// terrain and within reach of founder B at (1,0).
	for i := 0; i < 3; i++ {
		h.Step(2, Mine(3, 0))
	}
	require.Empty(t, h.Vetoes())

	// Yield per mine is 1 or 2, so three mines bank at least 3 stone, and
	// each mine draws exactly once from the physics stream.
	require.Len(t, h.Draws, 3)
	for _, d := range h.Draws {
		require.Equal(t, "volition.mine_yield", d.Callsite)
	}

	h.ClearObs()
	h.Step(2, Craft("stone_pick", 1))

	require.Empty(t, h.Vetoes())
	old, new, ok := h.DiffValue("inventory.stone_pick")
	require.True(t, ok, "expected a crafted pick")
	require.Equal(t, "0", old)
	require.Equal(t, "1", new)
}

func TestCraftWithoutIngredientsVetoed(t *testing.T) {
	h := NewHarness(t, 42)
	h.ClearObs()

	h.Step(2, Craft("stone_pick", 1))

	v := h.RequireVeto(protocol.VetoPhysicsTarget)
	require.Equal(t, "physics", v.Stage)
	require.Contains(t, v.Message, "stone")
}

func TestUnknownSourceVetoed(t *testing.T) {
	h := NewHarness(t, 42)
	h.ClearObs()

	h.Step(99, Move(0, 1))

	v := h.RequireVeto(protocol.VetoUnauthorized)
	require.Equal(t, "authorization", v.Stage)
	require.Equal(t, uint64(99), v.Source)
}

func TestAdminOpRequiresAdminRole(t *testing.T) {
	h := NewHarness(t, 42)
	h.ClearObs()

	// Founder B holds the plain agent role.
	h.Step(2, SetRole(1, world.RoleObserver))

	v := h.RequireVeto(protocol.VetoUnauthorized)
	require.Equal(t, protocol.KindAdmin, v.Kind)
}

// SET_ROLE without a role would silently strip the target's role at commit;
// the schema stage refuses it before anything downstream sees it.
func TestAdminSetRoleRequiresRole(t *testing.T) {
	h := NewHarness(t, 42)
	h.ClearObs()

	h.Step(1, protocol.Payload{Kind: protocol.KindAdmin, Admin: &protocol.AdminPayload{Op: protocol.AdminOpSetRole, Agent: 2}})

	v := h.RequireVeto(protocol.VetoSchemaInvalid)
	require.Equal(t, "schema", v.Stage)
	require.Equal(t, protocol.KindAdmin, v.Kind)
	require.Empty(t, h.StateDiffs())
}

func TestDemotedObserverCannotMutate(t *testing.T) {
	h := NewHarness(t, 42)
	h.ClearObs()

	h.Step(1, SetRole(2, world.RoleObserver))
	require.Empty(t, h.Vetoes())
	old, new, ok := h.DiffValue("agent.2.role")
	require.True(t, ok)
	require.Equal(t, world.RoleAgent, old)
	require.Equal(t, world.RoleObserver, new)

	h.ClearObs()
	h.Step(2, Move(0, 1))
	h.RequireVeto(protocol.VetoUnauthorized)

	// Chat commits nothing, so the read-only role may still speak.
	h.ClearObs()
	h.Step(2, Chat(protocol.ChatLocal, "still here"))
	require.Empty(t, h.Vetoes())
	require.Len(t, h.StateDiffs(), 1)
}

func TestMineOutsideBoundaryVetoed(t *testing.T) {
	h := NewHarness(t, 42)
	h.ClearObs()

	h.Step(2, Mine(1000, 0))

	v := h.RequireVeto(protocol.VetoPhysicsBounds)
	require.Equal(t, protocol.KindMine, v.Kind)
}

func TestTransferOwnershipEnforced(t *testing.T) {
	h := NewHarness(t, 42)
	h.ClearObs()

	// Entity 102 (hammer) belongs to founder A; founder B cannot give it away.
	h.Step(2, Transfer(102, 2))
	h.RequireVeto(protocol.VetoPhysicsOwnership)

	// Its owner can.
	h.ClearObs()
	h.Step(1, Transfer(102, 2))
	require.Empty(t, h.Vetoes())
	old, new, ok := h.DiffValue("entity.102.owner")
	require.True(t, ok)
	require.Equal(t, "1", old)
	require.Equal(t, "2", new)
}

func TestEnergyFloorStopsAction(t *testing.T) {
	tune := config.TuningDefaults()
	tune.Energy.Mine = config.ActionEnergy{Min: 8, Cost: 50}
	h := NewHarnessWithConfig(t, 42, tune, config.LawDefaults())
	h.ClearObs()

	// Two mines at cost 50 drain 100 -> 0; the third trips the exclusive
	// threshold.
	h.Step(2, Mine(3, 0))
	h.Step(2, Mine(3, 0))
	require.Empty(t, h.Vetoes())

	h.ClearObs()
	h.Step(2, Mine(3, 0))
	v := h.RequireVeto(protocol.VetoBioEnergy)
	require.Equal(t, "bio", v.Stage)
	require.Empty(t, h.StateDiffs())
}
