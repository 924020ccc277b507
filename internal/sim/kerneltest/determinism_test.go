package kerneltest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gridwarden.ai/internal/protocol"
)

func drive(h *Harness) {
	h.Submit(1, Move(0, 1))
	h.Submit(2, Move(0, -1))
	h.Advance(1)
	h.Step(2, Mine(3, 0))
	h.Step(1, Chat(protocol.ChatLocal, "ho"))
	h.Advance(9) // crosses the regen tick
}

func TestSameSeedSameCheckpoints(t *testing.T) {
	h1 := NewHarness(t, 777)
	h2 := NewHarness(t, 777)
	h1.ClearObs()
	h2.ClearObs()

	drive(h1)
	drive(h2)

	cps1, err := h1.Store.Checkpoints(0, 0)
	require.NoError(t, err)
	cps2, err := h2.Store.Checkpoints(0, 0)
	require.NoError(t, err)
	require.Equal(t, cps1, cps2)
	require.Equal(t, h1.K.Status().ChainTip, h2.K.Status().ChainTip)

	// The audit trail is part of the deterministic output, not a side log.
	require.Equal(t, h1.Draws, h2.Draws)
	require.Equal(t, h1.Obs, h2.Obs)
}

func TestDifferentSeedsDiverge(t *testing.T) {
	h1 := NewHarness(t, 777)
	h2 := NewHarness(t, 778)

	// Terrain and genesis scatter differ, so hashes split at the boot tick.
	require.NotEqual(t, h1.K.Status().ChainTip, h2.K.Status().ChainTip)
}

func TestEventOrderChangesHistory(t *testing.T) {
	h1 := NewHarness(t, 1337)
	h2 := NewHarness(t, 1337)

	h1.Submit(1, Move(0, 1))
	h1.Submit(2, Move(-1, 1))
	h1.Advance(1)

	h2.Submit(2, Move(-1, 1))
	h2.Submit(1, Move(0, 1))
	h2.Advance(1)

	require.NotEqual(t, h1.K.Status().ChainTip, h2.K.Status().ChainTip)
}
