package kerneltest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gridwarden.ai/internal/protocol"
)

const noGlobalChatExpr = "!(event.kind == 'CHAT' && event.chat.channel == 'GLOBAL')"

func TestLawProposalVoteEnactment(t *testing.T) {
	h := NewHarness(t, 7)
	require.Equal(t, uint64(1), h.K.Status().PolicyVersion)
	h.ClearObs()

	h.Step(1, ProposeLaw("no_global_chat", noGlobalChatExpr, "Quiet the town square"))
	require.Empty(t, h.Vetoes())
	h.ClearObs()

	// Both founders vote yes: 2 of 2 agents is a strict majority.
	h.Step(1, Vote("no_global_chat", "YES"))
	h.Step(2, Vote("no_global_chat", "YES"))
	require.Empty(t, h.Vetoes())

	old, new, ok := h.DiffValue("law.no_global_chat")
	require.True(t, ok)
	require.Equal(t, "PROPOSED", old)
	require.Equal(t, "ENACTED", new)
	require.Equal(t, uint64(2), h.K.Status().PolicyVersion)

	// The enacted law binds from the next event on.
	h.ClearObs()
	h.Step(2, Chat(protocol.ChatGlobal, "HEAR YE"))
	v := h.RequireVeto("POLICY_no_global_chat")
	require.Equal(t, "policy", v.Stage)

	h.ClearObs()
	h.Step(2, Chat(protocol.ChatLocal, "psst"))
	require.Empty(t, h.Vetoes())
}

func TestLawRejectedByMajorityNo(t *testing.T) {
	h := NewHarness(t, 7)
	h.ClearObs()

	h.Step(1, ProposeLaw("no_global_chat", noGlobalChatExpr, ""))
	h.ClearObs()
	h.Step(1, Vote("no_global_chat", "NO"))
	h.Step(2, Vote("no_global_chat", "NO"))
	require.Empty(t, h.Vetoes())

	_, new, ok := h.DiffValue("law.no_global_chat")
	require.True(t, ok)
	require.Equal(t, "REJECTED", new)
	require.Equal(t, uint64(1), h.K.Status().PolicyVersion)

	// A rejected law never binds.
	h.ClearObs()
	h.Step(2, Chat(protocol.ChatGlobal, "still legal"))
	require.Empty(t, h.Vetoes())
}

func TestUncompilableLawProposalVetoed(t *testing.T) {
	h := NewHarness(t, 7)
	h.ClearObs()

	h.Step(1, ProposeLaw("broken", "event.kind ==", ""))

	v := h.RequireVeto(protocol.VetoPhysicsTarget)
	require.Equal(t, protocol.KindLawProposal, v.Kind)
	require.Contains(t, v.Message, "expr")
}

func TestDuplicateLawIDVetoed(t *testing.T) {
	h := NewHarness(t, 7)
	h.ClearObs()

	h.Step(1, ProposeLaw("spawn_ring_protected", noGlobalChatExpr, ""))
	v := h.RequireVeto(protocol.VetoPhysicsTarget)
	require.Contains(t, v.Message, "already exists")
}

func TestVoteOnUnknownLawVetoed(t *testing.T) {
	h := NewHarness(t, 7)
	h.ClearObs()

	h.Step(1, Vote("no_such_law", "YES"))
	v := h.RequireVeto(protocol.VetoPhysicsTarget)
	require.Equal(t, protocol.KindVote, v.Kind)
}

func TestVoteOnSettledLawVetoed(t *testing.T) {
	h := NewHarness(t, 7)
	h.ClearObs()

	h.Step(1, ProposeLaw("no_global_chat", noGlobalChatExpr, ""))
	h.Step(1, Vote("no_global_chat", "YES"))
	h.Step(2, Vote("no_global_chat", "YES"))
	require.Empty(t, h.Vetoes())

	h.ClearObs()
	h.Step(1, Vote("no_global_chat", "NO"))
	v := h.RequireVeto(protocol.VetoPhysicsTarget)
	require.Contains(t, v.Message, "not open for votes")
}
