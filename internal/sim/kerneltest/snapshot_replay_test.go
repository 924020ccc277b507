package kerneltest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/persistence/snapshot"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/kernel"
	"gridwarden.ai/internal/sim/replay"
)

func TestReplayFromGenesisMatchesLiveRun(t *testing.T) {
	h := NewHarness(t, 1337)
	drive(h)

	r, err := replay.FromGenesis(h.Store, testWorldID, config.TuningDefaults(), config.LawDefaults(), DiscardLogger())
	require.NoError(t, err)
	rep, err := r.Verify(0)
	require.NoError(t, err)
	require.True(t, rep.OK, rep.String())
	require.Equal(t, h.K.Status().Tick+1, rep.Checked) // ticks 0..last
	require.Equal(t, h.K.Status().ChainTip, r.ChainTip().String())
}

func TestReplayFromSnapshotMatchesLiveRun(t *testing.T) {
	h := NewHarness(t, 1337)
	drive(h)

	path, err := h.K.Snapshot()
	require.NoError(t, err)
	snapTick := h.K.Status().Tick

	// More history after the snapshot.
	h.Step(1, Move(1, 0))
	h.Step(2, Chat(protocol.ChatLocal, "after the save"))
	h.Advance(3)

	r, err := replay.FromSnapshot(h.Store, testWorldID, path, DiscardLogger())
	require.NoError(t, err)
	require.Equal(t, snapTick+1, r.NextTick())

	rep, err := r.Verify(0)
	require.NoError(t, err)
	require.True(t, rep.OK, rep.String())
	require.Equal(t, h.K.Status().Tick-snapTick, rep.Checked)
	require.Equal(t, h.K.Status().ChainTip, r.ChainTip().String())
}

// The snapshot captures RNG stream positions, so randomness drawn after a
// restore continues the keystream instead of restarting it.
func TestSnapshotPreservesRngPositions(t *testing.T) {
	h := NewHarness(t, 99)
	h.Step(2, Mine(3, 0)) // consume physics-stream bytes

	path, err := h.K.Snapshot()
	require.NoError(t, err)

	h.ClearObs()
	h.Step(2, Mine(2, 1))
	liveDraws := append([]protocol.ObservationEvent(nil), h.Obs...)
	liveTip := h.K.Status().ChainTip

	r, err := replay.FromSnapshot(h.Store, testWorldID, path, DiscardLogger())
	require.NoError(t, err)
	_, err = r.ReplayTo(h.K.Status().Tick)
	require.NoError(t, err)
	require.Equal(t, liveTip, r.ChainTip().String())
	require.NotEmpty(t, liveDraws)
}

func TestResumeFromSnapshotContinuesChain(t *testing.T) {
	h := NewHarness(t, 1337)
	drive(h)

	path, err := h.K.Snapshot()
	require.NoError(t, err)
	tip := h.K.Status().ChainTip

	k2, err := kernel.Resume(h.Store, testWorldID, path, h.Dir, DiscardLogger())
	require.NoError(t, err)
	require.Equal(t, tip, k2.Status().ChainTip)
	require.Equal(t, h.K.Status().Tick, k2.Status().Tick)
}

func TestResumeRejectsForeignSnapshot(t *testing.T) {
	h := NewHarness(t, 1337)
	other := NewHarness(t, 2024)
	drive(h)
	drive(other)

	// A snapshot from a different history fails the checkpoint cross-check.
	foreign, err := other.K.Snapshot()
	require.NoError(t, err)

	_, err = kernel.Resume(h.Store, testWorldID, foreign, h.Dir, DiscardLogger())
	require.Error(t, err)
	var ie *kernel.IntegrityError
	require.True(t, errors.As(err, &ie), "got %v", err)
}

func TestSnapshotVersionFailClosed(t *testing.T) {
	h := NewHarness(t, 1337)
	path, err := h.K.Snapshot()
	require.NoError(t, err)

	snap, err := snapshot.ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, snapshot.Version, snap.Header.Version)
	require.Equal(t, h.K.Status().ChainTip, snap.WorldHash)
}
