// Package rng is the deterministic random source for the authority kernel.
// All randomness flows through subsystem-scoped ChaCha20 keystreams derived
// from the genesis seed, and every draw is recorded before its value is
// returned.
package rng

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
)

// Subsystem scopes a family of draw streams. Draws in one subsystem never
// advance another's keystream.
type Subsystem uint64

const (
	Physics Subsystem = iota
	Biology
	Cognition
	Genetics
	Governance
	Environment
)

var subsystemNames = [...]string{
	Physics:     "physics",
	Biology:     "biology",
	Cognition:   "cognition",
	Genetics:    "genetics",
	Governance:  "governance",
	Environment: "environment",
}

func (s Subsystem) String() string {
	if int(s) < len(subsystemNames) {
		return subsystemNames[s]
	}
	return fmt.Sprintf("subsystem_%d", uint64(s))
}

// DrawRecord is the audit row for a single draw. Records buffer in memory
// and the kernel drains them into the event log once per tick.
type DrawRecord struct {
	Tick      uint64    `json:"tick"`
	Subsystem Subsystem `json:"subsystem"`
	Stream    uint64    `json:"stream"`
	Callsite  string    `json:"callsite"`
	Value     uint64    `json:"value"`
}

// StreamState is one stream's keystream position: how many bytes it has
// consumed since genesis.
type StreamState struct {
	Subsystem Subsystem `json:"subsystem"`
	Stream    uint64    `json:"stream"`
	Used      uint64    `json:"used"`
}

type streamKey struct {
	sub    Subsystem
	stream uint64
}

type keystream struct {
	cipher *chacha20.Cipher
	used   uint64
}

// Rng is the kernel's sole random source. Not safe for concurrent use; the
// authority goroutine owns it.
type Rng struct {
	key     [32]byte
	tick    uint64
	streams map[streamKey]*keystream
	records []DrawRecord
}

// New derives the master key from the genesis seed. Streams open lazily on
// first draw.
func New(genesisSeed uint64) *Rng {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], genesisSeed)
	return &Rng{
		key:     blake2b.Sum256(seed[:]),
		streams: make(map[streamKey]*keystream),
	}
}

// Restore rebuilds an Rng at the exact position captured by State. Each
// stream's cipher advances to used/64 blocks and discards the remainder.
func Restore(genesisSeed uint64, states []StreamState) *Rng {
	r := New(genesisSeed)
	for _, st := range states {
		ks := r.open(streamKey{st.Subsystem, st.Stream})
		ks.cipher.SetCounter(uint32(st.Used / 64))
		if rem := st.Used % 64; rem > 0 {
			scratch := make([]byte, rem)
			ks.cipher.XORKeyStream(scratch, scratch)
		}
		ks.used = st.Used
	}
	return r
}

// DeriveSeed expands the genesis seed into a named 256-bit sub-seed, stable
// across runs. Generators that live outside the draw streams, like terrain
// noise, key themselves from one of these.
func DeriveSeed(genesisSeed uint64, name string) [32]byte {
	buf := make([]byte, 0, 8+len(name))
	buf = binary.LittleEndian.AppendUint64(buf, genesisSeed)
	buf = append(buf, name...)
	return blake2b.Sum256(buf)
}

// SetTick stamps subsequent draw records with the current tick.
func (r *Rng) SetTick(tick uint64) { r.tick = tick }

// Draw consumes eight keystream bytes from the (subsystem, stream) cipher
// and returns them as a little-endian uint64. The audit record is appended
// before the value is returned.
func (r *Rng) Draw(sub Subsystem, stream uint64, callsite string) uint64 {
	ks := r.open(streamKey{sub, stream})
	var block [8]byte
	ks.cipher.XORKeyStream(block[:], block[:])
	ks.used += 8
	v := binary.LittleEndian.Uint64(block[:])
	r.records = append(r.records, DrawRecord{
		Tick:      r.tick,
		Subsystem: sub,
		Stream:    stream,
		Callsite:  callsite,
		Value:     v,
	})
	return v
}

// Range returns min + Draw() % (max-min), a value in [min, max).
// Panics if max <= min.
func (r *Rng) Range(sub Subsystem, stream uint64, callsite string, min, max uint64) uint64 {
	if max <= min {
		panic(fmt.Sprintf("rng: empty range [%d,%d)", min, max))
	}
	return min + r.Draw(sub, stream, callsite)%(max-min)
}

// Float64 returns a value in [0, 1) built from the top 53 bits of a draw.
func (r *Rng) Float64(sub Subsystem, stream uint64, callsite string) float64 {
	return float64(r.Draw(sub, stream, callsite)>>11) / (1 << 53)
}

// State captures every open stream's position, sorted by (subsystem, stream).
func (r *Rng) State() []StreamState {
	out := make([]StreamState, 0, len(r.streams))
	for k, ks := range r.streams {
		out = append(out, StreamState{Subsystem: k.sub, Stream: k.stream, Used: ks.used})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subsystem != out[j].Subsystem {
			return out[i].Subsystem < out[j].Subsystem
		}
		return out[i].Stream < out[j].Stream
	})
	return out
}

// DrainRecords returns the buffered draw records and resets the buffer.
func (r *Rng) DrainRecords() []DrawRecord {
	out := r.records
	r.records = nil
	return out
}

func (r *Rng) open(k streamKey) *keystream {
	if ks, ok := r.streams[k]; ok {
		return ks
	}
	buf := make([]byte, 0, len(r.key)+16)
	buf = append(buf, r.key[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(k.sub))
	buf = binary.LittleEndian.AppendUint64(buf, k.stream)
	nonce := blake2b.Sum256(buf)

	c, err := chacha20.NewUnauthenticatedCipher(r.key[:], nonce[:chacha20.NonceSize])
	if err != nil {
		panic("rng: cipher init: " + err.Error())
	}
	ks := &keystream{cipher: c}
	r.streams[k] = ks
	return ks
}
