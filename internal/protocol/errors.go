package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Frame window.
	ErrFrameTimeout = "E_FRAME_TIMEOUT"
	ErrFrameAhead   = "E_FRAME_AHEAD"

	// Engine/driver state.
	ErrBusy     = "E_BUSY"
	ErrHalted   = "E_HALTED"
	ErrInternal = "E_INTERNAL"

	// ErrPending is not a rejection: the server stopped waiting for the
	// verdict, and the change may still be applied.
	ErrPending = "E_PENDING"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrFrameTimeout:    {},
	ErrFrameAhead:      {},
	ErrBusy:            {},
	ErrHalted:          {},
	ErrInternal:        {},
	ErrPending:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
