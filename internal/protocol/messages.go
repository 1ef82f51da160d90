package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Player          string `json:"player"`
	SpawnX          int    `json:"spawn_x,omitempty"`
	SpawnY          int    `json:"spawn_y,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Player          string `json:"player"`
	JoinFrame       uint64 `json:"join_frame"`
	NewestFrame     uint64 `json:"newest_frame"`
	RollbackFrames  int    `json:"rollback_frames"`
	TickRateHz      int    `json:"tick_rate_hz"`
}

// INPUT (client -> server): the player's input for one frame. Frames inside
// the rollback window rewind the simulation; older frames are rejected with
// E_FRAME_TIMEOUT.
type InputMsg struct {
	Type  string `json:"type"`
	Seq   uint64 `json:"seq"`
	Frame uint64 `json:"frame"`
	MoveX int    `json:"move_x"`
	MoveY int    `json:"move_y"`
}

// ACK (server -> client)
type AckMsg struct {
	Type        string `json:"type"`
	Seq         uint64 `json:"seq"`
	Frame       uint64 `json:"frame"`
	NewestFrame uint64 `json:"newest_frame"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
