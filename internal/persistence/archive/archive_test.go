package archive

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/rng"
)

func readLines(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	var lines []string
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestObservationLogRoundtrip(t *testing.T) {
	dir := t.TempDir()
	l := NewObservationLog(dir)

	obs1, err := protocol.NewObservation(3, 7, protocol.ObsTickHash, protocol.TickHashObs{Tick: 3})
	require.NoError(t, err)
	obs2, err := protocol.NewObservation(3, 8, protocol.ObsVetoRecorded, protocol.VetoObs{
		Stage: "physics_validate", Reason: protocol.VetoPhysicsCollision,
	})
	require.NoError(t, err)

	require.NoError(t, l.WriteBatch(3, []protocol.ObservationEvent{obs1, obs2}))
	require.NoError(t, l.Close())

	lines := readLines(t, filepath.Join(dir, "observations"))
	require.Len(t, lines, 2)

	var got protocol.ObservationEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	require.Equal(t, protocol.ObsVetoRecorded, got.Kind)
	require.Equal(t, obs2.Hash, got.Hash)
}

func TestDrawLogRoundtrip(t *testing.T) {
	dir := t.TempDir()
	l := NewDrawLog(dir)

	recs := []rng.DrawRecord{
		{Tick: 5, Subsystem: rng.Physics, Stream: 1, Callsite: "physics.check", Value: 18446744073709551615},
		{Tick: 5, Subsystem: rng.Environment, Stream: 0, Callsite: "world.scatter", Value: 42},
	}
	require.NoError(t, l.WriteDraws(recs))
	require.NoError(t, l.Close())

	lines := readLines(t, filepath.Join(dir, "draws"))
	require.Len(t, lines, 2)

	var got rng.DrawRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	require.Equal(t, recs[0], got)
}
