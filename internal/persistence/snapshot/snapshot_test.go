package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"gridwarden.ai/internal/config"
)

func sampleSnapshot() SnapshotV1 {
	return SnapshotV1{
		Header:        Header{WorldID: "world_1", Tick: 500},
		Seed:          1337,
		PolicyVersion: 2,
		NextEntityID:  1004,
		WorldHash:     "0a1b2c3d",
		Tuning:        TuningToV1(config.TuningDefaults()),
		TerrainR:      4,
		TerrainRLE:    "AwQ=",
		Agents: []AgentV1{
			{ID: 1, Name: "founder_a", Role: "admin", Pos: [2]int{0, 0}, Health: 100, Energy: 93, Mood: 51,
				Inventory: []ItemCountV1{{Item: "stone", Count: 3}, {Item: "wood", Count: 1}}},
			{ID: 2, Name: "founder_b", Role: "agent", Pos: [2]int{2, 1}, Health: 100, Energy: 99, Mood: 50},
		},
		Entities: []EntityV1{
			{ID: 100, Kind: "HOUSE", Owner: 1, Pos: [2]int{0, 0}},
			{ID: 102, Kind: "TOOL", Owner: 1, Pos: [2]int{0, 0}, Props: []PropV1{{Key: "tool", Value: "hammer"}}},
		},
		Laws: []LawV1{
			{ID: "no_mine", Title: "No mining", Expr: "event.kind != 'MINE'", Status: "PROPOSED",
				ProposedBy: 1, ProposedTick: 9, Votes: []VoteV1{{Voter: 1, Choice: "YES"}}},
		},
		Rng: []RngStreamV1{
			{Subsystem: 0, Stream: 0, Used: 40},
			{Subsystem: 5, Stream: 0, Used: 128},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snaps", "world_1_tick_500.snap")
	want := sampleSnapshot()

	require.NoError(t, WriteSnapshot(path, want))

	got, err := ReadSnapshot(path)
	require.NoError(t, err)

	require.Equal(t, Version, got.Header.Version)
	require.Equal(t, want.Header.WorldID, got.Header.WorldID)
	require.Equal(t, want.Header.Tick, got.Header.Tick)
	require.NotEmpty(t, got.Header.Checksum)

	// Body fields survive untouched.
	got.Header = want.Header
	require.Equal(t, want, got)

	// No temp file left behind.
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestReadSnapshotMissingFile(t *testing.T) {
	_, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap"))
	require.Error(t, err)
}

// writeRaw builds a snapshot file from parts, bypassing WriteSnapshot's
// header handling, so tests can forge versions and checksums.
func writeRaw(t *testing.T, path string, hdr Header, body []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	bw := bufio.NewWriter(enc)
	hb, err := json.Marshal(hdr)
	require.NoError(t, err)
	_, err = bw.Write(hb)
	require.NoError(t, err)
	require.NoError(t, bw.WriteByte('\n'))
	_, err = bw.Write(body)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func gobBody(t *testing.T, snap SnapshotV1) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(&snap))
	return buf.Bytes()
}

func TestReadSnapshotRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.snap")
	snap := sampleSnapshot()
	body := gobBody(t, snap)
	sum := blake2b.Sum256(body)

	writeRaw(t, path, Header{Version: 2, WorldID: "world_1", Tick: 500, Checksum: hex.EncodeToString(sum[:])}, body)

	_, err := ReadSnapshot(path)
	require.ErrorContains(t, err, "unsupported snapshot version 2")
}

func TestReadSnapshotRejectsChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tampered.snap")
	snap := sampleSnapshot()
	body := gobBody(t, snap)
	sum := blake2b.Sum256(body)
	body[len(body)-1] ^= 0xff

	writeRaw(t, path, Header{Version: Version, WorldID: "world_1", Tick: 500, Checksum: hex.EncodeToString(sum[:])}, body)

	_, err := ReadSnapshot(path)
	require.ErrorContains(t, err, "checksum mismatch")
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.snap")
	require.NoError(t, os.WriteFile(path, []byte("not zstd at all"), 0o644))

	_, err := ReadSnapshot(path)
	require.Error(t, err)
}

func TestTuningConversionRoundTrip(t *testing.T) {
	want := config.TuningDefaults()
	require.Equal(t, want, TuningToV1(want).Tuning())
}
