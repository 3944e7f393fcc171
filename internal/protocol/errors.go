package protocol

import "errors"

// Routine protocol conditions are values, not control flow. Callers branch
// with errors.Is; retry logic is data-driven.
var (
	// ErrAddressTaken: the requested transport address is already
	// registered. Recovered by minting a fresh address; never surfaced.
	ErrAddressTaken = errors.New("address taken")

	// ErrTransportUnavailable: the relay/rendezvous layer is unreachable.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrConnectTimeout: a direct peer connect did not complete in time.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrJoinTimeout: no admitting snapshot arrived within the admission
	// window across all retries.
	ErrJoinTimeout = errors.New("join timeout")
)
