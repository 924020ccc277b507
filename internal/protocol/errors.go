package protocol

// Transport-level error codes (ERR messages). These never appear as
// pipeline outcomes; vetoes use the reason constants below.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrUnknownSource   = "E_UNKNOWN_SOURCE"
	ErrChainRejected   = "E_CHAIN_REJECTED"
	ErrPastTick        = "E_PAST_TICK"
	ErrHalted          = "E_HALTED"
	ErrInternal        = "E_INTERNAL"
)

// Pipeline veto reasons. Each validating stage owns a distinct prefix so a
// reason code alone identifies the refusing stage.
const (
	VetoSchemaInvalid = "SCHEMA_INVALID"
	VetoUnauthorized  = "UNAUTHORIZED"

	VetoBioEnergy = "BIO_ENERGY"

	VetoPhysicsCollision = "PHYSICS_COLLISION"
	VetoPhysicsClimb     = "PHYSICS_CLIMB"
	VetoPhysicsBounds    = "PHYSICS_BOUNDS"
	VetoPhysicsReach     = "PHYSICS_REACH"
	VetoPhysicsOwnership = "PHYSICS_OWNERSHIP"
	VetoPhysicsTarget    = "PHYSICS_TARGET"

	// Policy vetoes carry the rule id: POLICY_<law_id>.
	VetoPolicyPrefix = "POLICY_"
)

var knownErrCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrUnknownSource:   {},
	ErrChainRejected:   {},
	ErrPastTick:        {},
	ErrHalted:          {},
	ErrInternal:        {},
}

func IsKnownErrCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownErrCodes[code]
	return ok
}
