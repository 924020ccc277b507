package world

import (
	"encoding/binary"
	"sort"

	"golang.org/x/crypto/blake2b"

	"gridwarden.ai/internal/protocol"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// Digest is the canonical serialization hash of the full state. Every hashed
// container is written in sorted order; map iteration never reaches the hash.
func (w *World) Digest() [32]byte {
	h, _ := blake2b.New256(nil)
	var tmp [8]byte

	w.digestHeader(h, &tmp)
	w.digestTerrain(h, &tmp)
	w.digestAgents(h, &tmp)
	w.digestEntities(h, &tmp)
	w.digestLaws(h, &tmp)

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// HashCheckpoint is one link of the per-tick world hash chain. Exactly one
// exists per tick from genesis; PrevWorldHash of tick t equals WorldHash of
// tick t-1 (zero at genesis).
type HashCheckpoint struct {
	Tick          uint64          `json:"tick"`
	WorldHash     protocol.Hash32 `json:"world_hash"`
	PrevWorldHash protocol.Hash32 `json:"prev_world_hash"`
}

// WorldHash advances the checkpoint chain:
// blake2b256(prev || le64(tick) || state digest).
func WorldHash(prev protocol.Hash32, tick uint64, digest [32]byte) protocol.Hash32 {
	h, _ := blake2b.New256(nil)
	var tmp [8]byte
	h.Write(prev[:])
	binary.LittleEndian.PutUint64(tmp[:], tick)
	h.Write(tmp[:])
	h.Write(digest[:])

	var out protocol.Hash32
	h.Sum(out[:0])
	return out
}

func (w *World) digestHeader(h hashWriter, tmp *[8]byte) {
	h.Write([]byte(w.ID))
	digestWriteU64(h, tmp, w.Seed)
	digestWriteU64(h, tmp, w.policyVersion)
	digestWriteU64(h, tmp, w.nextEntityID)
}

func (w *World) digestTerrain(h hashWriter, tmp *[8]byte) {
	digestWriteI64(h, tmp, int64(w.terrain.R))
	h.Write(w.terrain.heights)
}

func (w *World) digestAgents(h hashWriter, tmp *[8]byte) {
	digestWriteU64(h, tmp, uint64(len(w.agents)))
	for _, id := range w.AgentIDs() {
		a := w.agents[id]
		digestWriteU64(h, tmp, a.ID)
		h.Write([]byte(a.Name))
		h.Write([]byte(a.Role))
		digestWriteI64(h, tmp, int64(a.X))
		digestWriteI64(h, tmp, int64(a.Y))
		digestWriteI64(h, tmp, int64(a.Health))
		digestWriteI64(h, tmp, int64(a.Energy))
		digestWriteI64(h, tmp, int64(a.Mood))
		writeSortedIntMap(h, tmp, a.Inventory)
	}
}

func (w *World) digestEntities(h hashWriter, tmp *[8]byte) {
	digestWriteU64(h, tmp, uint64(len(w.entities)))
	for _, id := range w.EntityIDs() {
		e := w.entities[id]
		digestWriteU64(h, tmp, e.ID)
		h.Write([]byte(e.Kind))
		digestWriteU64(h, tmp, e.Owner)
		digestWriteI64(h, tmp, int64(e.X))
		digestWriteI64(h, tmp, int64(e.Y))
		writeSortedStringMap(h, tmp, e.Props)
	}
}

func (w *World) digestLaws(h hashWriter, tmp *[8]byte) {
	digestWriteU64(h, tmp, uint64(len(w.laws)))
	for _, id := range w.LawIDs() {
		l := w.laws[id]
		h.Write([]byte(id))
		h.Write([]byte(l.Title))
		h.Write([]byte(l.Expr))
		h.Write([]byte(l.Status))
		digestWriteU64(h, tmp, l.ProposedBy)
		digestWriteU64(h, tmp, l.ProposedTick)

		voters := make([]uint64, 0, len(l.Votes))
		for v := range l.Votes {
			voters = append(voters, v)
		}
		sort.Slice(voters, func(i, j int) bool { return voters[i] < voters[j] })
		digestWriteU64(h, tmp, uint64(len(voters)))
		for _, v := range voters {
			digestWriteU64(h, tmp, v)
			h.Write([]byte(l.Votes[v]))
		}
	}
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func writeSortedIntMap(h hashWriter, tmp *[8]byte, m map[string]int) {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	digestWriteU64(h, tmp, uint64(len(keys)))
	for _, k := range keys {
		h.Write([]byte(k))
		digestWriteI64(h, tmp, int64(m[k]))
	}
}

func writeSortedStringMap(h hashWriter, tmp *[8]byte, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	digestWriteU64(h, tmp, uint64(len(keys)))
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(m[k]))
	}
}
