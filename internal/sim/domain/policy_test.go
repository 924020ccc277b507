package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/world"
)

func enacted(id, expr string) *world.Law {
	return &world.Law{ID: id, Expr: expr, Status: world.LawEnacted}
}

func evMine(tick uint64, x, y int) protocol.InputEvent {
	return protocol.InputEvent{
		Tick: tick, Source: 1,
		Payload: protocol.Payload{Kind: protocol.KindMine, Mine: &protocol.MinePayload{X: x, Y: y}},
	}
}

func evChat(tick uint64) protocol.InputEvent {
	return protocol.InputEvent{
		Tick: tick, Source: 1,
		Payload: protocol.Payload{Kind: protocol.KindChat, Chat: &protocol.ChatPayload{Channel: protocol.ChatLocal, Text: "hi"}},
	}
}

func actor() *world.Agent {
	return &world.Agent{ID: 1, Role: world.RoleAgent, X: 0, Y: 0, Energy: 100}
}

func TestPolicyEmptyRegistryAllows(t *testing.T) {
	pol, err := NewPolicy(nil, 1)
	require.NoError(t, err)
	require.Nil(t, pol.Evaluate(actor(), evMine(5, 1, 0)))
}

func TestPolicyVetoesForbiddenKind(t *testing.T) {
	pol, err := NewPolicy([]*world.Law{enacted("no_mine", "event.kind != 'MINE'")}, 2)
	require.NoError(t, err)

	v := pol.Evaluate(actor(), evMine(5, 1, 0))
	require.NotNil(t, v)
	require.Equal(t, "POLICY_no_mine", v.Reason)

	require.Nil(t, pol.Evaluate(actor(), evChat(5)))
}

func TestPolicyDefaultSpawnRingLaw(t *testing.T) {
	def := config.LawDefaults().Laws[0]
	pol, err := NewPolicy([]*world.Law{enacted(def.ID, def.Expr)}, 1)
	require.NoError(t, err)

	v := pol.Evaluate(actor(), evMine(5, 1, 0))
	require.NotNil(t, v, "mining inside the ring is forbidden")
	require.Equal(t, "POLICY_spawn_ring_protected", v.Reason)

	require.Nil(t, pol.Evaluate(actor(), evMine(5, 10, 0)))
	require.Nil(t, pol.Evaluate(actor(), evChat(5)), "the guard short-circuits for other kinds")
}

func TestPolicyReadsAgentVars(t *testing.T) {
	pol, err := NewPolicy([]*world.Law{enacted("well_fed", "agent.energy > 50")}, 1)
	require.NoError(t, err)

	a := actor()
	require.Nil(t, pol.Evaluate(a, evMine(5, 10, 0)))

	a.Energy = 10
	v := pol.Evaluate(a, evMine(5, 10, 0))
	require.NotNil(t, v)
	require.Equal(t, "POLICY_well_fed", v.Reason)
}

func TestPolicyReadsTick(t *testing.T) {
	pol, err := NewPolicy([]*world.Law{enacted("early_only", "tick < 100u")}, 1)
	require.NoError(t, err)

	require.Nil(t, pol.Evaluate(actor(), evMine(5, 10, 0)))
	require.NotNil(t, pol.Evaluate(actor(), evMine(200, 10, 0)))
}

func TestPolicyFirstLawInOrderWins(t *testing.T) {
	pol, err := NewPolicy([]*world.Law{
		enacted("a_first", "event.kind != 'MINE'"),
		enacted("b_second", "event.kind != 'MINE'"),
	}, 1)
	require.NoError(t, err)

	v := pol.Evaluate(actor(), evMine(5, 10, 0))
	require.NotNil(t, v)
	require.Equal(t, "POLICY_a_first", v.Reason)
}

func TestPolicyRejectsUncompilableGenesisLaw(t *testing.T) {
	_, err := NewPolicy([]*world.Law{enacted("broken", "event.kind !=")}, 1)
	require.ErrorContains(t, err, "law broken")
}

func TestPolicyEvalErrorVetoes(t *testing.T) {
	// No kind guard: referencing event.mine on a chat event errors, and
	// errors veto rather than pass.
	pol, err := NewPolicy([]*world.Law{enacted("ring", "event.mine.x > 0")}, 1)
	require.NoError(t, err)

	v := pol.Evaluate(actor(), evChat(5))
	require.NotNil(t, v)
	require.Equal(t, "POLICY_ring", v.Reason)
}

func TestPolicyNonBooleanVetoes(t *testing.T) {
	pol, err := NewPolicy([]*world.Law{enacted("arith", "1 + 1")}, 1)
	require.NoError(t, err)

	v := pol.Evaluate(actor(), evChat(5))
	require.NotNil(t, v)
	require.Contains(t, v.Message, "boolean")
}

func TestPolicyRebuildTracksVersion(t *testing.T) {
	pol, err := NewPolicy(nil, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), pol.Version())

	require.NoError(t, pol.Rebuild([]*world.Law{enacted("no_mine", "event.kind != 'MINE'")}, 2))
	require.Equal(t, uint64(2), pol.Version())
	require.NotNil(t, pol.Evaluate(actor(), evMine(5, 1, 0)))

	require.Error(t, pol.Rebuild([]*world.Law{enacted("bad", "event.kind !=")}, 3))
	require.Equal(t, uint64(2), pol.Version(), "a failed rebuild leaves the old set in force")
}
