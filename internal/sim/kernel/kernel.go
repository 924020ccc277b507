// Package kernel is the authority loop: it owns the world exclusively,
// pulls appended input events tick by tick, runs them through the pipeline,
// and closes every tick with a hash checkpoint. Everything it does is a
// pure function of (seed, event order); wall-clock only paces the loop.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/persistence/eventlog"
	"gridwarden.ai/internal/persistence/snapshot"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/rng"
	"gridwarden.ai/internal/sim/world"
)

// ObservationSink receives a completed tick's observations after they are
// durably appended. Sinks must not block; the boundary drops, the kernel
// never waits.
type ObservationSink func(tick uint64, events []protocol.ObservationEvent)

// DrawSink receives a completed tick's RNG audit records.
type DrawSink func(recs []rng.DrawRecord)

// Status is the transport-safe view of the kernel, refreshed after every
// completed tick.
type Status struct {
	WorldID          string `json:"world_id"`
	Tick             uint64 `json:"tick"`
	ChainTip         string `json:"chain_tip"`
	Seed             uint64 `json:"seed"`
	PolicyVersion    uint64 `json:"policy_version"`
	BoundaryR        int    `json:"boundary_r"`
	PerceptionRadius int    `json:"perception_radius"`
	SnapshotEvery    uint64 `json:"snapshot_every_ticks"`
	Agents           int    `json:"agents"`
	Events           uint64 `json:"events"`
	Halted           bool   `json:"halted"`
	HaltReason       string `json:"halt_reason,omitempty"`
}

type Kernel struct {
	worldID     string
	store       *eventlog.Store
	snapshotDir string
	log         *slog.Logger

	mu     sync.Mutex
	st     *Stepper
	floor  uint64 // first tick open for submissions
	halted error

	statusMu sync.RWMutex
	status   Status

	obsSink  ObservationSink
	drawSink DrawSink
}

// New attaches a kernel to a prepared stepper. Boot and Resume are the
// usual entry points; New is exported for rebuild-by-replay paths that
// construct the stepper elsewhere.
func New(store *eventlog.Store, st *Stepper, worldID, snapshotDir string, log *slog.Logger) *Kernel {
	if log == nil {
		log = slog.Default()
	}
	k := &Kernel{
		worldID:     worldID,
		store:       store,
		snapshotDir: snapshotDir,
		log:         log.With("component", "kernel", "world", worldID),
		st:          st,
		floor:       st.NextTick(),
	}
	k.refreshStatusLocked()
	return k
}

// Boot starts a fresh world: genesis state from the seed, the boot event as
// the chain anchor, tick 0 processed, and the genesis snapshot written.
func Boot(store *eventlog.Store, worldID string, seed uint64, tune config.Tuning, laws config.LawSet, snapshotDir string, log *slog.Logger) (*Kernel, error) {
	if store.LastSeq() != 0 {
		return nil, fmt.Errorf("kernel: boot requires an empty event log (last seq %d)", store.LastSeq())
	}
	st, err := NewGenesisStepper(worldID, seed, tune, laws, log)
	if err != nil {
		return nil, err
	}
	k := New(store, st, worldID, snapshotDir, log)

	boot := protocol.Payload{Kind: protocol.KindBoot, Boot: &protocol.BootPayload{WorldID: worldID, Seed: seed}}
	if _, err := store.Append(0, protocol.SourceSystem, boot); err != nil {
		return nil, &StorageError{Op: "append boot", Tick: 0, Err: err}
	}
	if _, err := k.Advance(1); err != nil {
		return nil, err
	}
	k.log.Info("booted", "seed", seed, "chain_tip", k.Status().ChainTip)
	return k, nil
}

// Resume rebuilds the kernel from a snapshot file. The snapshot's world
// hash must match the stored checkpoint at its tick; a disagreement means
// one of the two histories is not ours, and resuming would fork it.
func Resume(store *eventlog.Store, worldID, snapPath, snapshotDir string, log *slog.Logger) (*Kernel, error) {
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return nil, err
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != worldID {
		return nil, fmt.Errorf("kernel: snapshot world id mismatch: have %s, snapshot %s", worldID, snap.Header.WorldID)
	}
	st, err := NewSnapshotStepper(worldID, snap, log)
	if err != nil {
		return nil, err
	}
	cp, ok, err := store.CheckpointAt(snap.Header.Tick)
	if err != nil {
		return nil, &StorageError{Op: "read checkpoint", Tick: snap.Header.Tick, Err: err}
	}
	if !ok {
		return nil, &IntegrityError{Tick: snap.Header.Tick, Reason: "no stored checkpoint for snapshot tick"}
	}
	if cp.WorldHash != st.ChainTip() {
		return nil, &IntegrityError{
			Tick:   snap.Header.Tick,
			Reason: fmt.Sprintf("snapshot hash %s disagrees with stored checkpoint %s", st.ChainTip(), cp.WorldHash),
		}
	}
	k := New(store, st, worldID, snapshotDir, log)
	k.log.Info("resumed", "snapshot", filepath.Base(snapPath), "tick", snap.Header.Tick)
	return k, nil
}

// SetObservationSink installs the live observation fan-out.
func (k *Kernel) SetObservationSink(sink ObservationSink) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.obsSink = sink
}

// SetDrawSink installs the RNG audit mirror.
func (k *Kernel) SetDrawSink(sink DrawSink) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.drawSink = sink
}

// Status returns the last completed tick's view.
func (k *Kernel) Status() Status {
	k.statusMu.RLock()
	defer k.statusMu.RUnlock()
	return k.status
}

// Halted reports the fatal error that stopped the clock, if any.
func (k *Kernel) Halted() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.halted
}

// Submit appends one intent to the event log. tick == 0 targets the next
// unstarted tick; an explicit past tick is rejected, never silently
// rescheduled. The event hash is assigned under the store's writer lock.
func (k *Kernel) Submit(source uint64, payload protocol.Payload, tick uint64) (eventlog.StoredEvent, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.halted != nil {
		return eventlog.StoredEvent{}, fmt.Errorf("%w: %v", ErrHalted, k.halted)
	}
	if tick == 0 {
		tick = k.floor
	}
	if tick < k.floor {
		return eventlog.StoredEvent{}, fmt.Errorf("%w: tick %d, next open tick %d", ErrPastTick, tick, k.floor)
	}
	se, err := k.store.Append(tick, source, payload)
	if err != nil {
		return eventlog.StoredEvent{}, err
	}
	return se, nil
}

// Advance runs n ticks. Any storage or integrity failure halts the clock
// fail-closed; the tick that failed is not recorded as complete and no
// later tick runs until an operator intervenes.
func (k *Kernel) Advance(n uint32) ([]world.HashCheckpoint, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrHalted, k.halted)
	}

	cps := make([]world.HashCheckpoint, 0, n)
	for i := uint32(0); i < n; i++ {
		cp, err := k.advanceOneLocked()
		if err != nil {
			k.halted = err
			k.refreshStatusLocked()
			k.log.Error("halted", "tick", k.st.NextTick(), "err", err)
			return cps, err
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

func (k *Kernel) advanceOneLocked() (world.HashCheckpoint, error) {
	t := k.st.NextTick()

	events, err := k.store.EventsForTick(t)
	if err != nil {
		return world.HashCheckpoint{}, &StorageError{Op: "fetch events", Tick: t, Err: err}
	}
	// From here on, submissions for tick t would be invisible to this run
	// but processed by a replay. Close the tick before stepping.
	k.floor = t + 1

	cp, obs, draws, err := k.st.StepTick(events)
	if err != nil {
		return world.HashCheckpoint{}, err
	}

	if err := k.store.AppendDraws(draws); err != nil {
		return world.HashCheckpoint{}, &StorageError{Op: "append draws", Tick: t, Err: err}
	}
	if err := k.store.AppendObservations(obs); err != nil {
		return world.HashCheckpoint{}, &StorageError{Op: "append observations", Tick: t, Err: err}
	}
	if err := k.store.AppendCheckpoint(cp); err != nil {
		return world.HashCheckpoint{}, &StorageError{Op: "append checkpoint", Tick: t, Err: err}
	}

	every := k.st.World().Tuning.SnapshotEveryTicks
	if every > 0 && t%every == 0 {
		snapObs, err := k.writeSnapshotLocked(cp)
		if err != nil {
			return world.HashCheckpoint{}, err
		}
		if err := k.store.AppendObservations([]protocol.ObservationEvent{snapObs}); err != nil {
			return world.HashCheckpoint{}, &StorageError{Op: "append observations", Tick: t, Err: err}
		}
		obs = append(obs, snapObs)
	}

	k.refreshStatusLocked()
	if k.obsSink != nil {
		k.obsSink(t, obs)
	}
	if k.drawSink != nil && len(draws) > 0 {
		k.drawSink(draws)
	}
	return cp, nil
}

// Snapshot writes an on-demand snapshot at the last completed tick and
// returns its path.
func (k *Kernel) Snapshot() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.halted != nil {
		return "", fmt.Errorf("%w: %v", ErrHalted, k.halted)
	}
	if k.st.NextTick() == 0 {
		return "", fmt.Errorf("kernel: no completed tick to snapshot")
	}
	tick := k.st.NextTick() - 1
	cp := world.HashCheckpoint{Tick: tick, WorldHash: k.st.ChainTip()}
	obs, err := k.writeSnapshotLocked(cp)
	if err != nil {
		k.halted = err
		k.refreshStatusLocked()
		return "", err
	}
	if err := k.store.AppendObservations([]protocol.ObservationEvent{obs}); err != nil {
		return "", &StorageError{Op: "append observations", Tick: tick, Err: err}
	}
	return k.snapshotPath(tick), nil
}

func (k *Kernel) writeSnapshotLocked(cp world.HashCheckpoint) (protocol.ObservationEvent, error) {
	snap := k.st.ExportSnapshot(k.worldID)
	path := k.snapshotPath(cp.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return protocol.ObservationEvent{}, &StorageError{Op: "write snapshot", Tick: cp.Tick, Err: err}
	}
	if err := k.store.RecordSnapshot(cp.Tick, path, cp.WorldHash); err != nil {
		return protocol.ObservationEvent{}, &StorageError{Op: "index snapshot", Tick: cp.Tick, Err: err}
	}
	obs, err := protocol.NewObservation(cp.Tick, 0, protocol.ObsSnapshotTaken, protocol.SnapshotObs{
		Tick:      cp.Tick,
		WorldHash: cp.WorldHash,
		Version:   snapshot.Version,
	})
	if err != nil {
		return protocol.ObservationEvent{}, err
	}
	k.log.Info("snapshot written", "tick", cp.Tick, "path", filepath.Base(path))
	return obs, nil
}

func (k *Kernel) snapshotPath(tick uint64) string {
	return filepath.Join(k.snapshotDir, fmt.Sprintf("%d.snap.zst", tick))
}

func (k *Kernel) refreshStatusLocked() {
	w := k.st.World()
	s := Status{
		WorldID:          k.worldID,
		ChainTip:         k.st.ChainTip().String(),
		Seed:             w.Seed,
		PolicyVersion:    w.PolicyVersion(),
		BoundaryR:        w.Tuning.WorldBoundaryR,
		PerceptionRadius: w.Tuning.PerceptionRadius,
		SnapshotEvery:    w.Tuning.SnapshotEveryTicks,
		Agents:           w.AgentCount(),
		Events:           k.store.LastSeq(),
	}
	if k.st.NextTick() > 0 {
		s.Tick = k.st.NextTick() - 1
	}
	if k.halted != nil {
		s.Halted = true
		s.HaltReason = k.halted.Error()
	}
	k.statusMu.Lock()
	k.status = s
	k.statusMu.Unlock()
}

// Run paces Advance on a wall-clock ticker until the context ends, the
// clock halts, or maxTicks completes. The ticker affects only when ticks
// run, never what they compute.
func (k *Kernel) Run(ctx context.Context, every time.Duration, maxTicks uint64) error {
	if every <= 0 {
		every = time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := k.Advance(1); err != nil {
				return err
			}
			if maxTicks > 0 && k.Status().Tick >= maxTicks {
				k.log.Info("max ticks reached", "tick", k.Status().Tick)
				return nil
			}
		}
	}
}
