package types

import "time"

// RoomConfig holds per-room settings fixed at creation time and shared
// via snapshots.
type RoomConfig struct {
	GameID     string
	MaxPlayers int
}

// Timing carries every protocol duration. Defaults are the production
// values; tests compress them so liveness windows play out in
// milliseconds.
type Timing struct {
	// Join handshake.
	JoinAttempts   int           // total outbound join attempts
	JoinBackoff    time.Duration // linear backoff unit (× attempt number)
	ConnectTimeout time.Duration // direct connect to the host address
	JoinResend     time.Duration // join_request resend interval while unadmitted
	AdmissionWait  time.Duration // max wait for an admitting snapshot per attempt

	// Presence / liveness.
	PresenceTick       time.Duration // host presence broadcast + peer heartbeat interval
	ConnectedWindow    time.Duration // heartbeat age for "connected"
	ReconnectingWindow time.Duration // heartbeat age for "reconnecting"

	// Host failure detection and takeover.
	TakeoverTick           time.Duration // non-host tick interval
	SuspectAfter           time.Duration // host silence before suspect
	ConfirmDownAfter       time.Duration // host silence before confirmed-down
	JoinGrace              time.Duration // no takeover this soon after joining
	ClaimCooldown          time.Duration // min gap between claim attempts
	TransferConnectTimeout time.Duration // per-peer connect during state transfer
	TransferCollectWindow  time.Duration // how long to collect provide_state replies
}

func DefaultTiming() Timing {
	return Timing{
		JoinAttempts:   3,
		JoinBackoff:    500 * time.Millisecond,
		ConnectTimeout: 20 * time.Second,
		JoinResend:     2 * time.Second,
		AdmissionWait:  30 * time.Second,

		PresenceTick:       2 * time.Second,
		ConnectedWindow:    5 * time.Second,
		ReconnectingWindow: 20 * time.Second,

		TakeoverTick:           3 * time.Second,
		SuspectAfter:           6 * time.Second,
		ConfirmDownAfter:       18 * time.Second,
		JoinGrace:              6 * time.Second,
		ClaimCooldown:          3 * time.Second,
		TransferConnectTimeout: 1200 * time.Millisecond,
		TransferCollectWindow:  2200 * time.Millisecond,
	}
}
