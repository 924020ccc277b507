package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"
)

// Hash32 is a BLAKE2b-256 digest, hex-encoded on the wire.
type Hash32 [32]byte

// ZeroHash is the genesis predecessor: the first event in a world links to it.
var ZeroHash Hash32

func (h Hash32) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(out, h[:])
	return out, nil
}

func (h *Hash32) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != len(h) {
		return fmt.Errorf("hash: want %d hex chars, got %d", hex.EncodedLen(len(h)), len(b))
	}
	_, err := hex.Decode(h[:], b)
	return err
}

func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

func (h Hash32) IsZero() bool { return h == ZeroHash }

// Payload kinds. The set is closed: anything else fails schema validation.
const (
	KindBoot        = "BOOT"
	KindMove        = "MOVE"
	KindGather      = "GATHER"
	KindMine        = "MINE"
	KindCraft       = "CRAFT"
	KindBuild       = "BUILD"
	KindChat        = "CHAT"
	KindToolUse     = "TOOL_USE"
	KindTransfer    = "TRANSFER"
	KindAdmin       = "ADMIN"
	KindLawProposal = "LAW_PROPOSAL"
	KindVote        = "VOTE"
)

// Payload is a closed tagged variant: Kind names exactly one non-nil member.
type Payload struct {
	Kind string `json:"kind"`

	Boot        *BootPayload        `json:"boot,omitempty"`
	Move        *MovePayload        `json:"move,omitempty"`
	Gather      *GatherPayload      `json:"gather,omitempty"`
	Mine        *MinePayload        `json:"mine,omitempty"`
	Craft       *CraftPayload       `json:"craft,omitempty"`
	Build       *BuildPayload       `json:"build,omitempty"`
	Chat        *ChatPayload        `json:"chat,omitempty"`
	ToolUse     *ToolUsePayload     `json:"tool_use,omitempty"`
	Transfer    *TransferPayload    `json:"transfer,omitempty"`
	Admin       *AdminPayload       `json:"admin,omitempty"`
	LawProposal *LawProposalPayload `json:"law_proposal,omitempty"`
	Vote        *VotePayload        `json:"vote,omitempty"`
}

// BootPayload is the single system event admitted at tick 0.
type BootPayload struct {
	WorldID string `json:"world_id"`
	Seed    uint64 `json:"seed"`
}

// MovePayload is a one-cell grid step. Height follows the terrain.
type MovePayload struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

type GatherPayload struct {
	EntityID uint64 `json:"entity_id"`
}

type MinePayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type CraftPayload struct {
	Recipe string `json:"recipe"`
	Count  int    `json:"count"`
}

type BuildPayload struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Block string `json:"block"`
}

// Chat channels. Both are delivered on the unscoped observation stream;
// the channel is the field policy rules filter on.
const (
	ChatLocal  = "LOCAL"
	ChatGlobal = "GLOBAL"
)

type ChatPayload struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type ToolUsePayload struct {
	EntityID uint64 `json:"entity_id"`
	Action   string `json:"action"`
}

// TransferPayload reassigns ownership of an entity the source already owns.
type TransferPayload struct {
	EntityID uint64 `json:"entity_id"`
	ToAgent  uint64 `json:"to_agent"`
}

// AdminOpSetRole is the only admin op the schema admits today.
const AdminOpSetRole = "SET_ROLE"

type AdminPayload struct {
	Op    string `json:"op"`
	Agent uint64 `json:"agent"`
	Role  string `json:"role,omitempty"`
}

// LawProposalPayload introduces a policy rule (a CEL expression) for vote.
type LawProposalPayload struct {
	LawID string `json:"law_id"`
	Expr  string `json:"expr"`
	Title string `json:"title,omitempty"`
}

type VotePayload struct {
	LawID  string `json:"law_id"`
	Choice string `json:"choice"` // "YES" or "NO"
}

// variant returns the single set member, or an error when the payload is
// empty, mismatched, or carries more than one member.
func (p Payload) variant() (any, error) {
	members := []struct {
		kind string
		v    any
		set  bool
	}{
		{KindBoot, p.Boot, p.Boot != nil},
		{KindMove, p.Move, p.Move != nil},
		{KindGather, p.Gather, p.Gather != nil},
		{KindMine, p.Mine, p.Mine != nil},
		{KindCraft, p.Craft, p.Craft != nil},
		{KindBuild, p.Build, p.Build != nil},
		{KindChat, p.Chat, p.Chat != nil},
		{KindToolUse, p.ToolUse, p.ToolUse != nil},
		{KindTransfer, p.Transfer, p.Transfer != nil},
		{KindAdmin, p.Admin, p.Admin != nil},
		{KindLawProposal, p.LawProposal, p.LawProposal != nil},
		{KindVote, p.Vote, p.Vote != nil},
	}
	var found any
	for _, m := range members {
		if !m.set {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("payload: more than one variant set")
		}
		if m.kind != p.Kind {
			return nil, fmt.Errorf("payload: kind %q does not match set variant %q", p.Kind, m.kind)
		}
		found = m.v
	}
	if found == nil {
		return nil, fmt.Errorf("payload: kind %q has no variant set", p.Kind)
	}
	return found, nil
}

// CheckShape verifies the kind/variant pairing without consulting a schema.
func (p Payload) CheckShape() error {
	_, err := p.variant()
	return err
}

// Mutating reports whether the payload asks for a world-state change.
// Chat is observable but commits nothing beyond the observation record.
func (p Payload) Mutating() bool {
	switch p.Kind {
	case KindChat:
		return false
	default:
		return true
	}
}

// CanonicalBytes returns the RFC 8785 (JCS) form of the payload JSON.
// These bytes are the hashing input: identical payloads canonicalize to
// identical bytes on every platform.
func (p Payload) CanonicalBytes() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payload marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("payload canonicalize: %w", err)
	}
	return out, nil
}

// InputEvent is an externally submitted intent. Events are append-once;
// Hash links each event to its predecessor to form the input chain.
type InputEvent struct {
	Tick     uint64  `json:"tick"`
	Source   uint64  `json:"source"`
	Payload  Payload `json:"payload"`
	Hash     Hash32  `json:"hash"`
	PrevHash Hash32  `json:"prev_hash"`
}

// EventHash computes H(le64(tick) || le64(source) || canonical(payload) || prev).
func EventHash(tick, source uint64, canonicalPayload []byte, prev Hash32) Hash32 {
	h, _ := blake2b.New256(nil)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], tick)
	h.Write(tmp[:])
	binary.LittleEndian.PutUint64(tmp[:], source)
	h.Write(tmp[:])
	h.Write(canonicalPayload)
	h.Write(prev[:])
	var out Hash32
	h.Sum(out[:0])
	return out
}

// NewInputEvent builds a chained event from the predecessor hash.
func NewInputEvent(tick, source uint64, payload Payload, prev Hash32) (InputEvent, error) {
	if err := payload.CheckShape(); err != nil {
		return InputEvent{}, err
	}
	canon, err := payload.CanonicalBytes()
	if err != nil {
		return InputEvent{}, err
	}
	return InputEvent{
		Tick:     tick,
		Source:   source,
		Payload:  payload,
		Hash:     EventHash(tick, source, canon, prev),
		PrevHash: prev,
	}, nil
}

// Recompute re-derives the event hash from the stored fields.
func (e InputEvent) Recompute() (Hash32, error) {
	canon, err := e.Payload.CanonicalBytes()
	if err != nil {
		return Hash32{}, err
	}
	return EventHash(e.Tick, e.Source, canon, e.PrevHash), nil
}

// SourceSystem is the reserved submitter id for system events.
const SourceSystem uint64 = 0

// Validate enforces the structural rules that hold independent of chain
// position: tick 0 admits only BOOT, BOOT appears only at tick 0 from the
// system source, the system source submits nothing else, and the stored
// hash matches the fields.
func (e InputEvent) Validate() error {
	if err := e.Payload.CheckShape(); err != nil {
		return err
	}
	if e.Tick == 0 && e.Payload.Kind != KindBoot {
		return fmt.Errorf("tick 0 admits only %s events, got %s", KindBoot, e.Payload.Kind)
	}
	if e.Payload.Kind == KindBoot {
		if e.Tick != 0 {
			return fmt.Errorf("%s event must target tick 0, got %d", KindBoot, e.Tick)
		}
		if e.Source != SourceSystem {
			return fmt.Errorf("%s event must come from source %d, got %d", KindBoot, SourceSystem, e.Source)
		}
		if !e.PrevHash.IsZero() {
			return fmt.Errorf("genesis event must link to the zero hash")
		}
	} else if e.Source == SourceSystem {
		return fmt.Errorf("source %d is reserved for system events", SourceSystem)
	}
	want, err := e.Recompute()
	if err != nil {
		return err
	}
	if e.Hash != want {
		return fmt.Errorf("event hash mismatch: stored=%s computed=%s", e.Hash, want)
	}
	return nil
}
