package protocol

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func bootPayload() Payload {
	return Payload{Kind: KindBoot, Boot: &BootPayload{WorldID: "world_1", Seed: 1337}}
}

func movePayload(dx, dy int) Payload {
	return Payload{Kind: KindMove, Move: &MovePayload{DX: dx, DY: dy}}
}

func TestEventChainLinksAndValidates(t *testing.T) {
	genesis, err := NewInputEvent(0, SourceSystem, bootPayload(), ZeroHash)
	require.NoError(t, err)
	require.NoError(t, genesis.Validate())
	require.Equal(t, ZeroHash, genesis.PrevHash)

	e1, err := NewInputEvent(1, 1, movePayload(1, 0), genesis.Hash)
	require.NoError(t, err)
	require.NoError(t, e1.Validate())

	e2, err := NewInputEvent(1, 2, movePayload(0, 1), e1.Hash)
	require.NoError(t, err)
	require.NoError(t, e2.Validate())

	require.NotEqual(t, genesis.Hash, e1.Hash)
	require.NotEqual(t, e1.Hash, e2.Hash)
	require.Equal(t, e1.Hash, e2.PrevHash)
}

func TestEventTamperDetectedByRecompute(t *testing.T) {
	genesis, err := NewInputEvent(0, SourceSystem, bootPayload(), ZeroHash)
	require.NoError(t, err)
	ev, err := NewInputEvent(1, 1, movePayload(1, 0), genesis.Hash)
	require.NoError(t, err)

	ev.Payload.Move.DX = -1
	got, err := ev.Recompute()
	require.NoError(t, err)
	require.NotEqual(t, ev.Hash, got)
	require.Error(t, ev.Validate())
}

func TestValidateStructuralRules(t *testing.T) {
	genesis, err := NewInputEvent(0, SourceSystem, bootPayload(), ZeroHash)
	require.NoError(t, err)

	// Tick 0 admits only BOOT.
	ev, err := NewInputEvent(0, 1, movePayload(1, 0), ZeroHash)
	require.NoError(t, err)
	require.Error(t, ev.Validate())

	// BOOT only at tick 0.
	ev, err = NewInputEvent(3, SourceSystem, bootPayload(), genesis.Hash)
	require.NoError(t, err)
	require.Error(t, ev.Validate())

	// BOOT only from the system source.
	ev, err = NewInputEvent(0, 7, bootPayload(), ZeroHash)
	require.NoError(t, err)
	require.Error(t, ev.Validate())

	// The system source submits nothing else.
	ev, err = NewInputEvent(1, SourceSystem, movePayload(1, 0), genesis.Hash)
	require.NoError(t, err)
	require.Error(t, ev.Validate())

	// Genesis must link to the zero hash.
	bad := genesis
	bad.PrevHash = genesis.Hash
	require.Error(t, bad.Validate())
}

func TestPayloadShape(t *testing.T) {
	// Kind without a member.
	p := Payload{Kind: KindMove}
	require.Error(t, p.CheckShape())

	// Member without a matching kind.
	p = Payload{Kind: KindChat, Move: &MovePayload{DX: 1}}
	require.Error(t, p.CheckShape())

	// Two members set.
	p = movePayload(1, 0)
	p.Chat = &ChatPayload{Channel: "LOCAL", Text: "hi"}
	require.Error(t, p.CheckShape())

	require.NoError(t, movePayload(0, -1).CheckShape())
}

// Canonical bytes are the hash input; their exact form is load-bearing.
// JCS sorts object keys, so members that sort before "kind" move ahead of it.
func TestCanonicalBytesGolden(t *testing.T) {
	g := goldie.New(t)

	move, err := movePayload(1, 0).CanonicalBytes()
	require.NoError(t, err)
	g.Assert(t, "canonical_move", move)

	chat := Payload{Kind: KindChat, Chat: &ChatPayload{Channel: "LOCAL", Text: "hello"}}
	raw, err := chat.CanonicalBytes()
	require.NoError(t, err)
	g.Assert(t, "canonical_chat", raw)
}

func TestEventHashDependsOnEveryField(t *testing.T) {
	canon, err := movePayload(1, 0).CanonicalBytes()
	require.NoError(t, err)
	base := EventHash(5, 1, canon, ZeroHash)

	require.NotEqual(t, base, EventHash(6, 1, canon, ZeroHash))
	require.NotEqual(t, base, EventHash(5, 2, canon, ZeroHash))

	other, err := movePayload(0, 1).CanonicalBytes()
	require.NoError(t, err)
	require.NotEqual(t, base, EventHash(5, 1, other, ZeroHash))

	var prev Hash32
	prev[0] = 1
	require.NotEqual(t, base, EventHash(5, 1, canon, prev))

	require.Equal(t, base, EventHash(5, 1, canon, ZeroHash))
}

func TestHash32Text(t *testing.T) {
	var h Hash32
	h[0] = 0xab
	h[31] = 0x01
	text, err := h.MarshalText()
	require.NoError(t, err)

	var back Hash32
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, h, back)

	require.Error(t, back.UnmarshalText([]byte("abcd")))
}
