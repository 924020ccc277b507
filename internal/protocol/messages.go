package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	Role            string `json:"role"`             // "agent", "admin", "observer", "auditor"
	Source          uint64 `json:"source,omitempty"` // submitter id; 0 lets the server assign
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Source          uint64      `json:"source"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	Seed             uint64 `json:"seed"`
	BoundaryR        int    `json:"boundary_r"`
	PerceptionRadius int    `json:"perception_radius"`
	SnapshotEvery    uint64 `json:"snapshot_every_ticks"`
	PolicyVersion    uint64 `json:"policy_version"`
}

// SUBMIT (client -> server): one intent for a target tick. Tick 0 asks the
// server to stamp the next unstarted tick. The chain hash is assigned at
// append time; clients never compute it.
type SubmitMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id"`
	Tick            uint64  `json:"tick,omitempty"`
	Payload         Payload `json:"payload"`
}

// ACK (server -> client): append outcome for one SUBMIT.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Sequence        uint64 `json:"sequence,omitempty"`
	Tick            uint64 `json:"tick,omitempty"`
	Hash            string `json:"hash,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ERR (server -> client): transport-level failure outside any SUBMIT.
type ErrMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// OBS (server -> client): live observation push, in emission order.
type ObsMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	WorldID         string             `json:"world_id"`
	Events          []ObservationEvent `json:"events"`
}

// OBS_REQ (client -> server): backlog page request by observation cursor.
type ObsReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	SinceCursor     uint64 `json:"since_cursor"`
	Limit           int    `json:"limit"`
}

type ObsBatchItem struct {
	Cursor uint64           `json:"cursor"`
	Event  ObservationEvent `json:"event"`
}

// OBS_BATCH (server -> client)
type ObsBatchMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ReqID           string         `json:"req_id"`
	Events          []ObsBatchItem `json:"events"`
	NextCursor      uint64         `json:"next_cursor"`
}
