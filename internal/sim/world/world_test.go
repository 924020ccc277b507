package world

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/sim/rng"
)

func genesisWorld(t *testing.T, seed uint64) *World {
	t.Helper()
	return NewGenesis("world_test", seed, config.TuningDefaults(), config.LawDefaults(), rng.New(seed))
}

func TestGenesisDeterministic(t *testing.T) {
	a := genesisWorld(t, 1337)
	b := genesisWorld(t, 1337)
	require.Equal(t, a.Digest(), b.Digest())

	c := genesisWorld(t, 1338)
	require.NotEqual(t, a.Digest(), c.Digest())
}

func TestGenesisContents(t *testing.T) {
	w := genesisWorld(t, 1337)

	require.Equal(t, 2, w.AgentCount())
	founder := w.Agent(1)
	require.NotNil(t, founder)
	require.Equal(t, RoleAdmin, founder.Role)
	require.Equal(t, 100, founder.Energy)
	require.Equal(t, 50, founder.Mood)
	require.Equal(t, 0, founder.X)
	require.Equal(t, 0, founder.Y)

	second := w.Agent(2)
	require.NotNil(t, second)
	require.Equal(t, RoleAgent, second.Role)
	require.Equal(t, 1, second.X)

	require.Equal(t, EntityHouse, w.Entity(100).Kind)
	require.Equal(t, EntityShed, w.Entity(101).Kind)
	require.Equal(t, "hammer", w.Entity(102).Props["tool"])
	require.Equal(t, "wrench", w.Entity(103).Props["tool"])

	// Genesis-enabled laws start enacted; the rest wait for votes.
	l := w.Law("spawn_ring_protected")
	require.NotNil(t, l)
	require.Equal(t, LawEnacted, l.Status)
	require.Equal(t, uint64(1), w.PolicyVersion())

	// Resource nodes never land inside the spawn ring.
	for _, id := range w.EntityIDs() {
		e := w.Entity(id)
		if e.Kind != EntityResource {
			continue
		}
		require.False(t, withinSpawnClear(e.X, e.Y, spawnClearRadius),
			"resource %d at (%d,%d) inside spawn ring", e.ID, e.X, e.Y)
	}
}

func TestDigestIgnoresTuning(t *testing.T) {
	a := genesisWorld(t, 7)
	b := genesisWorld(t, 7)
	b.Tuning.PerceptionRadius = 99
	b.Tuning.Energy.Move.Cost = 42
	require.Equal(t, a.Digest(), b.Digest())
}

func TestApplyMove(t *testing.T) {
	w := genesisWorld(t, 1337)
	a := w.Agent(2)
	before := w.Digest()

	diffs := w.ApplyMove(a, 1, 0)

	require.Equal(t, 2, a.X)
	require.Equal(t, 0, a.Y)
	require.Equal(t, 99, a.Energy)
	require.Len(t, diffs, 2)
	require.Equal(t, "pos", diffs[0].Field)
	require.Equal(t, "1,0", diffs[0].Old)
	require.Equal(t, "2,0", diffs[0].New)
	require.Equal(t, "energy", diffs[1].Field)
	require.NotEqual(t, before, w.Digest())
}

func TestApplyGather(t *testing.T) {
	w := genesisWorld(t, 1337)
	a := w.Agent(1)
	e := &Entity{ID: 500, Kind: EntityResource, X: 5, Y: 5, Props: map[string]string{"resource": "wood"}}
	w.entities[e.ID] = e

	diffs := w.ApplyGather(a, e, 2)

	require.Equal(t, 2, a.Inventory["wood"])
	require.Nil(t, w.Entity(500))
	require.Equal(t, 95, a.Energy)
	require.Len(t, diffs, 3)
}

func TestApplyMine(t *testing.T) {
	w := genesisWorld(t, 1337)
	a := w.Agent(1)
	// (2,0) sits inside the levelled spawn ring, so the height is known.
	require.Equal(t, 3, w.Terrain().Height(2, 0))

	w.ApplyMine(a, 2, 0, 1)

	require.Equal(t, 2, w.Terrain().Height(2, 0))
	require.Equal(t, 1, a.Inventory["stone"])
	require.Equal(t, 95, a.Energy)
}

func TestApplyMineRemovesBlock(t *testing.T) {
	w := genesisWorld(t, 1337)
	a := w.Agent(1)
	a.Inventory["stone"] = 1
	w.ApplyBuild(a, 3, 0, "stone")
	b := w.EntityAt(3, 0, EntityBlock)
	require.NotNil(t, b)
	h := w.Terrain().Height(3, 0)

	w.ApplyMine(a, 3, 0, 1)

	require.Nil(t, w.EntityAt(3, 0, EntityBlock))
	require.Equal(t, h-1, w.Terrain().Height(3, 0))
}

func TestApplyCraft(t *testing.T) {
	w := genesisWorld(t, 1337)
	a := w.Agent(1)
	a.Inventory["stone"] = 3

	w.ApplyCraft(a, "stone_pick", 1)

	_, hasStone := a.Inventory["stone"]
	require.False(t, hasStone, "spent inputs leave the inventory")
	require.Equal(t, 1, a.Inventory["stone_pick"])
	require.Equal(t, 95, a.Energy)
}

func TestKnownRecipe(t *testing.T) {
	require.True(t, KnownRecipe("stone_pick"))
	require.True(t, KnownRecipe("torch"))
	require.False(t, KnownRecipe("philosopher_stone"))
}

func TestApplyBuild(t *testing.T) {
	w := genesisWorld(t, 1337)
	a := w.Agent(1)
	a.Inventory["stone"] = 1
	h := w.Terrain().Height(3, 0)

	diffs := w.ApplyBuild(a, 3, 0, "stone")

	b := w.EntityAt(3, 0, EntityBlock)
	require.NotNil(t, b)
	require.Equal(t, uint64(1000), b.ID)
	require.Equal(t, a.ID, b.Owner)
	require.Equal(t, "stone", b.Props["block"])
	require.Equal(t, h+1, w.Terrain().Height(3, 0))
	_, hasStone := a.Inventory["stone"]
	require.False(t, hasStone)
	require.Equal(t, 90, a.Energy)
	require.Len(t, diffs, 4)

	// Ids keep advancing.
	a.Inventory["stone"] = 1
	w.ApplyBuild(a, 4, 0, "stone")
	require.Equal(t, uint64(1001), w.EntityAt(4, 0, EntityBlock).ID)
}

func TestApplyToolUse(t *testing.T) {
	w := genesisWorld(t, 1337)
	a := w.Agent(1)
	e := w.Entity(102)

	w.ApplyToolUse(a, e, "sharpen")

	require.Equal(t, "sharpen", e.Props["last_action"])
	require.Equal(t, 51, a.Mood)
	require.Equal(t, 98, a.Energy)

	a.Mood = 100
	w.ApplyToolUse(a, e, "sharpen")
	require.Equal(t, 100, a.Mood)
}

func TestApplyTransferAndSetRole(t *testing.T) {
	w := genesisWorld(t, 1337)
	e := w.Entity(102)

	diffs := w.ApplyTransfer(e, 2)
	require.Equal(t, uint64(2), e.Owner)
	require.Len(t, diffs, 1)

	target := w.Agent(2)
	w.ApplySetRole(target, RoleObserver)
	require.Equal(t, RoleObserver, target.Role)
}

func TestApplyVoteMajorityEnacts(t *testing.T) {
	w := genesisWorld(t, 1337)
	proposer := w.Agent(1)
	w.ApplyLawProposal(proposer, "no_mine", "No mining", "event.kind != 'MINE'", 10)
	require.Equal(t, LawProposed, w.Law("no_mine").Status)

	pv := w.PolicyVersion()
	w.ApplyVote(w.Agent(1), "no_mine", "YES")
	require.Equal(t, LawProposed, w.Law("no_mine").Status, "one of two votes is not a majority")
	require.Equal(t, pv, w.PolicyVersion())

	diffs := w.ApplyVote(w.Agent(2), "no_mine", "YES")
	require.Equal(t, LawEnacted, w.Law("no_mine").Status)
	require.Equal(t, pv+1, w.PolicyVersion())
	require.Len(t, diffs, 3)
}

func TestApplyVoteMajorityRejects(t *testing.T) {
	w := genesisWorld(t, 1337)
	w.ApplyLawProposal(w.Agent(1), "no_chat", "No chat", "event.kind != 'CHAT'", 10)

	pv := w.PolicyVersion()
	w.ApplyVote(w.Agent(1), "no_chat", "NO")
	w.ApplyVote(w.Agent(2), "no_chat", "NO")

	require.Equal(t, LawRejected, w.Law("no_chat").Status)
	require.Equal(t, pv, w.PolicyVersion(), "rejection leaves the policy version alone")
}

func TestApplyRegenCaps(t *testing.T) {
	w := genesisWorld(t, 1337)
	w.Agent(1).Energy = 99
	w.Agent(2).Energy = 40

	w.ApplyRegen(5)

	require.Equal(t, 100, w.Agent(1).Energy)
	require.Equal(t, 45, w.Agent(2).Energy)
}

func TestAgentAtPrefersLowestID(t *testing.T) {
	w := genesisWorld(t, 1337)
	w.Agent(2).X = 0
	w.Agent(2).Y = 0

	got := w.AgentAt(0, 0)
	require.NotNil(t, got)
	require.Equal(t, uint64(1), got.ID)
	require.Nil(t, w.AgentAt(9, 9))
}

func TestEntityAtKindFilter(t *testing.T) {
	w := genesisWorld(t, 1337)

	require.Equal(t, uint64(100), w.EntityAt(0, 0, "").ID)
	require.Equal(t, uint64(102), w.EntityAt(0, 0, EntityTool).ID)
	require.Nil(t, w.EntityAt(0, 0, EntityShed))
}

func TestWithinQueriesSortedAndFiltered(t *testing.T) {
	w := genesisWorld(t, 1337)

	both := w.AgentsWithin(0, 0, 1)
	require.Len(t, both, 2)
	require.Equal(t, uint64(1), both[0].ID)
	require.Equal(t, uint64(2), both[1].ID)

	only := w.AgentsWithin(0, 0, 0)
	require.Len(t, only, 1)
	require.Equal(t, uint64(1), only[0].ID)

	// Resource nodes spawn outside the ring, so radius 1 sees only the
	// founder assets.
	near := w.EntitiesWithin(0, 0, 1)
	require.Len(t, near, 4)
	for i := 1; i < len(near); i++ {
		require.Less(t, near[i-1].ID, near[i].ID)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	w := genesisWorld(t, 1337)
	// Touch every section so the round trip carries real content.
	a := w.Agent(1)
	a.Inventory["stone"] = 4
	w.ApplyMove(w.Agent(2), 1, 1)
	w.ApplyBuild(a, 3, 0, "stone")
	w.ApplyLawProposal(a, "no_mine", "No mining", "event.kind != 'MINE'", 10)
	w.ApplyVote(a, "no_mine", "YES")

	snap := w.ExportSnapshot()
	got, err := ImportSnapshot(w.ID, snap)
	require.NoError(t, err)

	require.Equal(t, w.Digest(), got.Digest())
	require.Equal(t, w.Tuning, got.Tuning)
	require.Equal(t, a.Inventory, got.Agent(1).Inventory)
	require.Equal(t, "YES", got.Law("no_mine").Votes[1])
}

func TestImportSnapshotRejectsDuplicates(t *testing.T) {
	w := genesisWorld(t, 1337)
	snap := w.ExportSnapshot()
	snap.Agents = append(snap.Agents, snap.Agents[0])

	_, err := ImportSnapshot(w.ID, snap)
	require.ErrorContains(t, err, "duplicate agent")
}
