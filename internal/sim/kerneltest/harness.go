// Package kerneltest is a black-box harness for driving a booted kernel
// through its exported surface: submit events, advance ticks, inspect the
// observations and audit records that come back. Tests here never touch
// world internals, so they hold for the live server and the replay harness
// alike.
package kerneltest

import (
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/persistence/eventlog"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/kernel"
	"gridwarden.ai/internal/sim/rng"
	"gridwarden.ai/internal/sim/world"
)

const testWorldID = "test_world"

type Harness struct {
	T     *testing.T
	Store *eventlog.Store
	K     *kernel.Kernel
	Dir   string

	// Everything the sinks delivered since boot (or the last ClearObs).
	Obs   []protocol.ObservationEvent
	Draws []rng.DrawRecord
}

func NewHarness(t *testing.T, seed uint64) *Harness {
	return NewHarnessWithConfig(t, seed, config.TuningDefaults(), config.LawDefaults())
}

func NewHarnessWithConfig(t *testing.T, seed uint64, tune config.Tuning, laws config.LawSet) *Harness {
	t.Helper()

	dir := t.TempDir()
	store, err := eventlog.Open(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	k, err := kernel.Boot(store, testWorldID, seed, tune, laws, filepath.Join(dir, "snapshots"), DiscardLogger())
	require.NoError(t, err)

	h := &Harness{T: t, Store: store, K: k, Dir: dir}
	k.SetObservationSink(func(_ uint64, obs []protocol.ObservationEvent) {
		h.Obs = append(h.Obs, obs...)
	})
	k.SetDrawSink(func(recs []rng.DrawRecord) {
		h.Draws = append(h.Draws, recs...)
	})
	return h
}

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Submit appends one event for the next unstarted tick.
func (h *Harness) Submit(source uint64, p protocol.Payload) eventlog.StoredEvent {
	h.T.Helper()
	se, err := h.K.Submit(source, p, 0)
	require.NoError(h.T, err)
	return se
}

// Advance runs n ticks and fails the test on any halt.
func (h *Harness) Advance(n uint32) []world.HashCheckpoint {
	h.T.Helper()
	cps, err := h.K.Advance(n)
	require.NoError(h.T, err)
	require.Len(h.T, cps, int(n))
	return cps
}

// Step submits the payloads in order and advances one tick.
func (h *Harness) Step(source uint64, payloads ...protocol.Payload) world.HashCheckpoint {
	h.T.Helper()
	for _, p := range payloads {
		h.Submit(source, p)
	}
	return h.Advance(1)[0]
}

func (h *Harness) ClearObs() {
	h.Obs = nil
	h.Draws = nil
}

// Vetoes decodes every VETO_RECORDED observation collected so far.
func (h *Harness) Vetoes() []protocol.VetoObs {
	h.T.Helper()
	var out []protocol.VetoObs
	for _, o := range h.Obs {
		if o.Kind != protocol.ObsVetoRecorded {
			continue
		}
		var v protocol.VetoObs
		require.NoError(h.T, unmarshalObs(o, &v))
		out = append(out, v)
	}
	return out
}

// StateDiffs decodes every STATE_DIFF observation collected so far.
func (h *Harness) StateDiffs() []protocol.StateDiffObs {
	h.T.Helper()
	var out []protocol.StateDiffObs
	for _, o := range h.Obs {
		if o.Kind != protocol.ObsStateDiff {
			continue
		}
		var d protocol.StateDiffObs
		require.NoError(h.T, unmarshalObs(o, &d))
		out = append(out, d)
	}
	return out
}

// RequireVeto asserts exactly one collected veto matches the reason and
// returns it.
func (h *Harness) RequireVeto(reason string) protocol.VetoObs {
	h.T.Helper()
	var matches []protocol.VetoObs
	for _, v := range h.Vetoes() {
		if v.Reason == reason {
			matches = append(matches, v)
		}
	}
	require.Len(h.T, matches, 1, "vetoes with reason %s", reason)
	return matches[0]
}

// DiffValue finds a field transition across the collected state diffs.
func (h *Harness) DiffValue(field string) (old, new string, ok bool) {
	for _, d := range h.StateDiffs() {
		for _, c := range d.Changes {
			if c.Field == field {
				return c.Old, c.New, true
			}
		}
	}
	return "", "", false
}

func unmarshalObs(o protocol.ObservationEvent, v any) error {
	return json.Unmarshal(o.Payload, v)
}

// --- payload builders ---

func Move(dx, dy int) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindMove, Move: &protocol.MovePayload{DX: dx, DY: dy}}
}

func Gather(entityID uint64) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindGather, Gather: &protocol.GatherPayload{EntityID: entityID}}
}

func Mine(x, y int) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindMine, Mine: &protocol.MinePayload{X: x, Y: y}}
}

func Craft(recipe string, count int) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindCraft, Craft: &protocol.CraftPayload{Recipe: recipe, Count: count}}
}

func Build(x, y int, block string) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindBuild, Build: &protocol.BuildPayload{X: x, Y: y, Block: block}}
}

func Chat(channel, text string) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindChat, Chat: &protocol.ChatPayload{Channel: channel, Text: text}}
}

func ToolUse(entityID uint64, action string) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindToolUse, ToolUse: &protocol.ToolUsePayload{EntityID: entityID, Action: action}}
}

func Transfer(entityID, toAgent uint64) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindTransfer, Transfer: &protocol.TransferPayload{EntityID: entityID, ToAgent: toAgent}}
}

func SetRole(agent uint64, role string) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindAdmin, Admin: &protocol.AdminPayload{Op: protocol.AdminOpSetRole, Agent: agent, Role: role}}
}

func ProposeLaw(id, expr, title string) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindLawProposal, LawProposal: &protocol.LawProposalPayload{LawID: id, Expr: expr, Title: title}}
}

func Vote(lawID, choice string) protocol.Payload {
	return protocol.Payload{Kind: protocol.KindVote, Vote: &protocol.VotePayload{LawID: lawID, Choice: choice}}
}
