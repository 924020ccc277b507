package replay

import (
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/persistence/eventlog"
	"gridwarden.ai/internal/protocol"
)

func hashWith(b byte) protocol.Hash32 {
	var h protocol.Hash32
	h[0] = b
	return h
}

// Operators read these reports off the replay binary; the exact rendering
// is pinned.
func TestReportStringGolden(t *testing.T) {
	g := goldie.New(t)

	ok := Report{WorldID: "w_prod", From: 0, To: 12, Checked: 13, Events: 9, OK: true}
	g.Assert(t, "report_ok", []byte(ok.String()))

	failed := Report{
		WorldID: "w_prod",
		From:    0,
		To:      12,
		Checked: 13,
		Events:  9,
		Divergences: []Divergence{
			{Tick: 7, Want: hashWith(0xaa), Got: hashWith(0xbb)},
			{Tick: 8, Want: hashWith(0xcc), Got: hashWith(0xdd)},
		},
		Truncated: true,
	}
	g.Assert(t, "report_failed", []byte(failed.String()))
}

func openStore(t *testing.T) *eventlog.Store {
	t.Helper()
	s, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFromGenesisRequiresBootEvent(t *testing.T) {
	s := openStore(t)
	tune, laws := config.TuningDefaults(), config.LawDefaults()

	_, err := FromGenesis(s, "w1", tune, laws, nil)
	require.ErrorContains(t, err, "empty")

	boot := protocol.Payload{Kind: protocol.KindBoot, Boot: &protocol.BootPayload{WorldID: "w1", Seed: 9}}
	_, err = s.Append(0, protocol.SourceSystem, boot)
	require.NoError(t, err)

	_, err = FromGenesis(s, "some_other_world", tune, laws, nil)
	require.ErrorContains(t, err, "w1")

	h, err := FromGenesis(s, "w1", tune, laws, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), h.NextTick())
	require.True(t, h.ChainTip().IsZero())
}
