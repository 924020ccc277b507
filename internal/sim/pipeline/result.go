package pipeline

import "gridwarden.ai/internal/protocol"

// Status is the terminal disposition of one event. Pending only exists
// while the stages run; callers never see it.
type Status uint8

const (
	Pending Status = iota
	SchemaInvalid
	Unauthorized
	BioVetoed
	PhysicsVetoed
	PolicyVetoed
	Committed
)

var statusNames = [...]string{
	Pending:       "PENDING",
	SchemaInvalid: "SCHEMA_INVALID",
	Unauthorized:  "UNAUTHORIZED",
	BioVetoed:     "BIO_VETOED",
	PhysicsVetoed: "PHYSICS_VETOED",
	PolicyVetoed:  "POLICY_VETOED",
	Committed:     "COMMITTED",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN"
}

// Vetoed reports whether the event was refused by a validating stage.
func (s Status) Vetoed() bool { return s != Pending && s != Committed }

// Stage names, as they appear in veto observations.
const (
	StageSchema        = "schema"
	StageAuthorization = "authorization"
	StagePerception    = "perception"
	StageIntent        = "intent"
	StageVolition      = "volition"
	StageBio           = "bio"
	StagePhysics       = "physics"
	StagePolicy        = "policy"
	StageCommit        = "commit"
	StageObservation   = "observation"
)

// Result is what one pipeline pass produces: the disposition, the refusing
// stage and reason for vetoes, the committed field diffs otherwise, and the
// observations to append either way.
type Result struct {
	Status  Status
	Stage   string
	Reason  string
	Message string

	Diffs        []protocol.FieldDiff
	Observations []protocol.ObservationEvent
}
