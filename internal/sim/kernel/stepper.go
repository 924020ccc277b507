package kernel

import (
	"fmt"
	"log/slog"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/persistence/eventlog"
	"gridwarden.ai/internal/persistence/snapshot"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/domain"
	"gridwarden.ai/internal/sim/pipeline"
	"gridwarden.ai/internal/sim/rng"
	"gridwarden.ai/internal/sim/world"
)

// Stepper advances world state one tick at a time without touching any
// store. The Kernel wraps it with persistence; the replay harness drives it
// directly against a read-only event range. Both paths run the exact same
// code, which is what makes replay equivalence a property instead of a
// hope.
type Stepper struct {
	w    *world.World
	r    *rng.Rng
	pipe *pipeline.Pipeline

	next uint64
	prev protocol.Hash32
}

// NewGenesisStepper builds the deterministic genesis state for a seed. The
// Environment-stream draws made during genesis land at tick 0, before the
// boot event is processed, in a fixed order.
func NewGenesisStepper(worldID string, seed uint64, tune config.Tuning, laws config.LawSet, log *slog.Logger) (*Stepper, error) {
	r := rng.New(seed)
	r.SetTick(0)
	w := world.NewGenesis(worldID, seed, tune, laws, r)
	return newStepper(w, r, 0, protocol.ZeroHash, log)
}

// NewSnapshotStepper rebuilds the stepper at the exact position a snapshot
// captured: world content, RNG stream positions, and the checkpoint chain
// tip. The first tick it steps is snapshot tick + 1.
func NewSnapshotStepper(worldID string, snap snapshot.SnapshotV1, log *slog.Logger) (*Stepper, error) {
	w, err := world.ImportSnapshot(worldID, snap)
	if err != nil {
		return nil, err
	}
	states := make([]rng.StreamState, 0, len(snap.Rng))
	for _, st := range snap.Rng {
		states = append(states, rng.StreamState{
			Subsystem: rng.Subsystem(st.Subsystem),
			Stream:    st.Stream,
			Used:      st.Used,
		})
	}
	r := rng.Restore(snap.Seed, states)

	var tip protocol.Hash32
	if err := tip.UnmarshalText([]byte(snap.WorldHash)); err != nil {
		return nil, fmt.Errorf("snapshot world_hash: %w", err)
	}
	return newStepper(w, r, snap.Header.Tick+1, tip, log)
}

func newStepper(w *world.World, r *rng.Rng, next uint64, prev protocol.Hash32, log *slog.Logger) (*Stepper, error) {
	policy, err := domain.NewPolicy(w.EnactedLaws(), w.PolicyVersion())
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return &Stepper{
		w:    w,
		r:    r,
		pipe: pipeline.New(pipeline.Defaults(w, policy), log),
		next: next,
		prev: prev,
	}, nil
}

// NextTick is the tick StepTick will process next.
func (st *Stepper) NextTick() uint64 { return st.next }

// ChainTip is the world hash of the last completed tick.
func (st *Stepper) ChainTip() protocol.Hash32 { return st.prev }

// World exposes the stepped state. Callers outside the authority goroutine
// must not touch it.
func (st *Stepper) World() *world.World { return st.w }

// RngState captures the stream positions for snapshotting.
func (st *Stepper) RngState() []rng.StreamState { return st.r.State() }

// StepTick runs one tick: energy regen on its cadence, every event through
// the pipeline in sequence order, then the closing checkpoint and its
// TICK_HASH observation. The returned draw records are the tick's RNG
// audit.
func (st *Stepper) StepTick(events []eventlog.StoredEvent) (world.HashCheckpoint, []protocol.ObservationEvent, []rng.DrawRecord, error) {
	t := st.next
	st.r.SetTick(t)

	regen := st.w.Tuning.Energy
	if t > 0 && regen.RegenEveryTicks > 0 && t%regen.RegenEveryTicks == 0 {
		st.w.ApplyRegen(regen.RegenAmount)
	}

	var obs []protocol.ObservationEvent
	for _, se := range events {
		if se.Event.Tick != t {
			return world.HashCheckpoint{}, nil, nil, &IntegrityError{
				Tick:   t,
				Reason: fmt.Sprintf("event seq %d targets tick %d", se.Seq, se.Event.Tick),
			}
		}
		res, err := st.pipe.Process(st.w, st.r, se.Seq, se.Event)
		if err != nil {
			return world.HashCheckpoint{}, nil, nil, fmt.Errorf("pipeline seq %d: %w", se.Seq, err)
		}
		obs = append(obs, res.Observations...)
	}

	digest := st.w.Digest()
	cp := world.HashCheckpoint{
		Tick:          t,
		WorldHash:     world.WorldHash(st.prev, t, digest),
		PrevWorldHash: st.prev,
	}
	tickObs, err := protocol.NewObservation(t, 0, protocol.ObsTickHash, protocol.TickHashObs{Tick: t, WorldHash: cp.WorldHash})
	if err != nil {
		return world.HashCheckpoint{}, nil, nil, err
	}
	obs = append(obs, tickObs)

	st.prev = cp.WorldHash
	st.next = t + 1
	return cp, obs, st.r.DrainRecords(), nil
}

// ExportSnapshot captures the stepper at its last completed tick. The
// caller must not step between computing the checkpoint and exporting.
func (st *Stepper) ExportSnapshot(worldID string) snapshot.SnapshotV1 {
	snap := st.w.ExportSnapshot()
	snap.Header.WorldID = worldID
	snap.Header.Tick = st.next - 1
	snap.WorldHash = st.prev.String()
	for _, s := range st.r.State() {
		snap.Rng = append(snap.Rng, snapshot.RngStreamV1{
			Subsystem: uint64(s.Subsystem),
			Stream:    s.Stream,
			Used:      s.Used,
		})
	}
	return snap
}
