package world

// Roles recognized by the Authorization stage. Only admin and agent may
// submit mutating events; observer and auditor are read-only surfaces.
const (
	RoleAdmin    = "admin"
	RoleAgent    = "agent"
	RoleObserver = "observer"
	RoleAuditor  = "auditor"
)

// Entity kinds.
const (
	EntityHouse    = "HOUSE"
	EntityShed     = "SHED"
	EntityTool     = "TOOL"
	EntityResource = "RESOURCE"
	EntityBlock    = "BLOCK"
)

// Law lifecycle.
const (
	LawProposed = "PROPOSED"
	LawEnacted  = "ENACTED"
	LawRejected = "REJECTED"
)

// Agent is one embodied actor. Source ids on input events are agent ids.
type Agent struct {
	ID        uint64
	Name      string
	Role      string
	X, Y      int
	Health    int
	Energy    int
	Mood      int
	Inventory map[string]int
}

// Entity is a world object: founder assets, resource nodes, placed blocks.
type Entity struct {
	ID    uint64
	Kind  string
	Owner uint64
	X, Y  int
	Props map[string]string
}

// Law is one governance rule living in world state. Expr is CEL source; the
// policy engine compiles enacted laws and vetoes events they forbid.
type Law struct {
	ID           string
	Title        string
	Expr         string
	Status       string
	ProposedBy   uint64
	ProposedTick uint64
	Votes        map[uint64]string
}

// YesVotes counts recorded YES choices.
func (l *Law) YesVotes() int {
	n := 0
	for _, c := range l.Votes {
		if c == "YES" {
			n++
		}
	}
	return n
}

// NoVotes counts recorded NO choices.
func (l *Law) NoVotes() int {
	n := 0
	for _, c := range l.Votes {
		if c == "NO" {
			n++
		}
	}
	return n
}
