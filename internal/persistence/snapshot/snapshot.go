// Package snapshot reads and writes versioned world snapshots. A snapshot
// file is zstd-compressed: one JSON header line, then a gob body. The header
// carries the format version and a checksum of the body; an unknown version
// or a checksum mismatch fails closed.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"gridwarden.ai/internal/config"
)

// Version is the only snapshot format this build reads or writes.
const Version = 1

type Header struct {
	Version  int    `json:"version"`
	WorldID  string `json:"world_id"`
	Tick     uint64 `json:"tick"`
	Checksum string `json:"checksum"`
}

// SnapshotV1 is the complete resumable state at one tick: world content,
// the checkpoint chain value, the effective tuning, and the RNG stream
// positions. All containers are sorted slices so equal states encode equal
// bodies.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed          uint64 `json:"seed"`
	PolicyVersion uint64 `json:"policy_version"`
	NextEntityID  uint64 `json:"next_entity_id"`
	WorldHash     string `json:"world_hash"`

	Tuning TuningV1 `json:"tuning"`

	TerrainR   int    `json:"terrain_r"`
	TerrainRLE string `json:"terrain_rle"`

	Agents   []AgentV1     `json:"agents"`
	Entities []EntityV1    `json:"entities"`
	Laws     []LawV1       `json:"laws"`
	Rng      []RngStreamV1 `json:"rng"`
}

type TuningV1 struct {
	PerceptionRadius   int      `json:"perception_radius"`
	WorldBoundaryR     int      `json:"world_boundary_r"`
	ClimbLimit         int      `json:"climb_limit"`
	ReachLimit         int      `json:"reach_limit"`
	SnapshotEveryTicks uint64   `json:"snapshot_every_ticks"`
	Energy             EnergyV1 `json:"energy"`
}

type EnergyV1 struct {
	Move    ActionEnergyV1 `json:"move"`
	ToolUse ActionEnergyV1 `json:"tool_use"`
	Gather  ActionEnergyV1 `json:"gather"`
	Mine    ActionEnergyV1 `json:"mine"`
	Craft   ActionEnergyV1 `json:"craft"`
	Build   ActionEnergyV1 `json:"build"`

	RegenEveryTicks uint64 `json:"regen_every_ticks"`
	RegenAmount     int    `json:"regen_amount"`
}

type ActionEnergyV1 struct {
	Min  int `json:"min"`
	Cost int `json:"cost"`
}

type AgentV1 struct {
	ID        uint64        `json:"id"`
	Name      string        `json:"name"`
	Role      string        `json:"role"`
	Pos       [2]int        `json:"pos"`
	Health    int           `json:"health"`
	Energy    int           `json:"energy"`
	Mood      int           `json:"mood"`
	Inventory []ItemCountV1 `json:"inventory,omitempty"`
}

type ItemCountV1 struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type EntityV1 struct {
	ID    uint64   `json:"id"`
	Kind  string   `json:"kind"`
	Owner uint64   `json:"owner"`
	Pos   [2]int   `json:"pos"`
	Props []PropV1 `json:"props,omitempty"`
}

type PropV1 struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type LawV1 struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Expr         string   `json:"expr"`
	Status       string   `json:"status"`
	ProposedBy   uint64   `json:"proposed_by"`
	ProposedTick uint64   `json:"proposed_tick"`
	Votes        []VoteV1 `json:"votes,omitempty"`
}

type VoteV1 struct {
	Voter  uint64 `json:"voter"`
	Choice string `json:"choice"`
}

type RngStreamV1 struct {
	Subsystem uint64 `json:"subsystem"`
	Stream    uint64 `json:"stream"`
	Used      uint64 `json:"used"`
}

// TuningToV1 copies the effective tuning into its snapshot form.
func TuningToV1(t config.Tuning) TuningV1 {
	return TuningV1{
		PerceptionRadius:   t.PerceptionRadius,
		WorldBoundaryR:     t.WorldBoundaryR,
		ClimbLimit:         t.ClimbLimit,
		ReachLimit:         t.ReachLimit,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		Energy: EnergyV1{
			Move:            ActionEnergyV1(t.Energy.Move),
			ToolUse:         ActionEnergyV1(t.Energy.ToolUse),
			Gather:          ActionEnergyV1(t.Energy.Gather),
			Mine:            ActionEnergyV1(t.Energy.Mine),
			Craft:           ActionEnergyV1(t.Energy.Craft),
			Build:           ActionEnergyV1(t.Energy.Build),
			RegenEveryTicks: t.Energy.RegenEveryTicks,
			RegenAmount:     t.Energy.RegenAmount,
		},
	}
}

// Tuning converts the snapshot form back into the live config type.
func (v TuningV1) Tuning() config.Tuning {
	return config.Tuning{
		PerceptionRadius:   v.PerceptionRadius,
		WorldBoundaryR:     v.WorldBoundaryR,
		ClimbLimit:         v.ClimbLimit,
		ReachLimit:         v.ReachLimit,
		SnapshotEveryTicks: v.SnapshotEveryTicks,
		Energy: config.EnergyTuning{
			Move:            config.ActionEnergy(v.Energy.Move),
			ToolUse:         config.ActionEnergy(v.Energy.ToolUse),
			Gather:          config.ActionEnergy(v.Energy.Gather),
			Mine:            config.ActionEnergy(v.Energy.Mine),
			Craft:           config.ActionEnergy(v.Energy.Craft),
			Build:           config.ActionEnergy(v.Energy.Build),
			RegenEveryTicks: v.Energy.RegenEveryTicks,
			RegenAmount:     v.Energy.RegenAmount,
		},
	}
}

// WriteSnapshot writes the file atomically enough for a crash-consistent
// directory scan: temp file first, then rename.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	snap.Header.Version = Version
	snap.Header.Checksum = ""
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	sum := blake2b.Sum256(body.Bytes())
	snap.Header.Checksum = hex.EncodeToString(sum[:])

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		f.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		f.Close()
		return err
	}
	if _, err := bw.Write(body.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadSnapshot validates the header version and body checksum before
// decoding. Anything it does not recognize is an error, never a guess.
func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	headerLine, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("snapshot header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(headerLine, &hdr); err != nil {
		return snap, fmt.Errorf("snapshot header: %w", err)
	}
	if hdr.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return snap, err
	}
	sum := blake2b.Sum256(body)
	if hex.EncodeToString(sum[:]) != hdr.Checksum {
		return snap, fmt.Errorf("snapshot checksum mismatch")
	}

	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	snap.Header = hdr
	return snap, nil
}
