package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Observation kinds.
const (
	ObsStateDiff     = "STATE_DIFF"
	ObsVetoRecorded  = "VETO_RECORDED"
	ObsSnapshotTaken = "SNAPSHOT_TAKEN"
	ObsTickHash      = "TICK_HASH"
)

// ObservationEvent is an externally visible effect of a committed or vetoed
// input, or of the tick itself (CausedBy == 0). Immutable once emitted.
type ObservationEvent struct {
	Tick     uint64          `json:"tick"`
	CausedBy uint64          `json:"caused_by,omitempty"` // input sequence number
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Hash     Hash32          `json:"hash"`
}

// ObsHash computes H(le64(tick) || le64(causedBy) || kind || payload).
func ObsHash(tick, causedBy uint64, kind string, payload []byte) Hash32 {
	h, _ := blake2b.New256(nil)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], tick)
	h.Write(tmp[:])
	binary.LittleEndian.PutUint64(tmp[:], causedBy)
	h.Write(tmp[:])
	h.Write([]byte(kind))
	h.Write(payload)
	var out Hash32
	h.Sum(out[:0])
	return out
}

// NewObservation marshals the payload and stamps the observation hash.
func NewObservation(tick, causedBy uint64, kind string, payload any) (ObservationEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ObservationEvent{}, fmt.Errorf("observation marshal: %w", err)
	}
	return ObservationEvent{
		Tick:     tick,
		CausedBy: causedBy,
		Kind:     kind,
		Payload:  raw,
		Hash:     ObsHash(tick, causedBy, kind, raw),
	}, nil
}

// FieldDiff records one field transition inside a commit.
type FieldDiff struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// StateDiffObs is the observable shape of a committed mutation.
type StateDiffObs struct {
	Agent   uint64      `json:"agent,omitempty"`
	Entity  uint64      `json:"entity,omitempty"`
	Changes []FieldDiff `json:"changes"`
}

// VetoObs records a rejected input: which stage refused and why. Every
// attempted action is observable whether it committed or not.
type VetoObs struct {
	Source  uint64 `json:"source"`
	Kind    string `json:"kind"`
	Stage   string `json:"stage"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// TickHashObs closes a tick: the checkpoint hash observers can verify.
type TickHashObs struct {
	Tick      uint64 `json:"tick"`
	WorldHash Hash32 `json:"world_hash"`
}

// SnapshotObs announces a snapshot write.
type SnapshotObs struct {
	Tick      uint64 `json:"tick"`
	WorldHash Hash32 `json:"world_hash"`
	Version   int    `json:"version"`
}
