package core

import "errors"

// Session error taxonomy. Transport and channel failures are converted to
// one of these at the coordinator boundary; callers branch with errors.Is.
var (
	// ErrSeatUnavailable: locked or occupied seat, or transmit attempted
	// without one. Recoverable, the user may retry.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrInvalidSeat: seat index outside [0, capacity).
	ErrInvalidSeat = errors.New("invalid seat index")
	// ErrTransportJoin: media join failed after the retry ceiling.
	ErrTransportJoin = errors.New("transport join failed")
	// ErrPublish: publish failed, transport reverted to audience.
	ErrPublish = errors.New("publish failed")
	// ErrTokenRenewal: credential renewal failed, session degraded to
	// audience but not terminated.
	ErrTokenRenewal = errors.New("token renewal failed")
	// ErrKicked and ErrBanned are terminal; the session must be torn down
	// and reconnection disabled.
	ErrKicked = errors.New("kicked from room")
	ErrBanned = errors.New("banned from room")
	// ErrChannelDown: realtime channel reconnect ceiling reached; background
	// retry continues but the session is degraded.
	ErrChannelDown = errors.New("realtime channel down")
	// ErrBackpressure: outbound intent buffer full, send dropped.
	ErrBackpressure = errors.New("backpressure")
	// ErrRateLimited: intent rejected by the client-side send limiter.
	ErrRateLimited = errors.New("rate limited")
	// ErrPinRequired / ErrInvalidPin are surfaced to the PIN-challenge
	// collaborator, never handled inside the coordinator.
	ErrPinRequired = errors.New("room pin required")
	ErrInvalidPin  = errors.New("invalid room pin")

	ErrClosed = errors.New("session closed")
)
