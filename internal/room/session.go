package room

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"meshroom/internal/netx"
	"meshroom/internal/protocol"
	"meshroom/internal/store"
	"meshroom/pkg/types"
)

type Role string

const (
	RoleIdle Role = "idle"
	RolePeer Role = "peer"
	RoleHost Role = "host"
)

// Session is the per-participant room state machine. It owns all mutable
// room state behind one mutex and is driven from exactly three places:
// inbound transport events, the periodic tick, and the public API.
//
// Room state is mutated locally only while holding the host role (the
// room's public address); as a peer the session only installs snapshots
// published by the host.
type Session struct {
	cfg    types.RoomConfig
	timing types.Timing
	tr     netx.Transport
	st     *store.Store
	id     *Identity
	relay  *EventRelay

	// injectable clock, real time outside tests
	now func() time.Time

	mu     sync.Mutex
	role   Role
	roomID protocol.RoomID
	snap   *protocol.RoomSnapshot

	// local seat role (player vs spectator), preserved across takeovers
	asSpectator bool

	// read model for the UI collaborator
	presence map[protocol.ClientID]protocol.PresenceStatus

	// host bookkeeping
	lastSeen         map[protocol.ClientID]time.Time
	lastPresenceSent time.Time

	// peer bookkeeping
	lastHostSignal    time.Time
	lastHeartbeatSent time.Time
	lastTakeoverCheck time.Time
	lastClaim         time.Time
	joinedAt          time.Time
	joinedOK          bool
	takingOver        bool
	healing           bool

	// join admission waiter, set during an active join attempt
	admission chan protocol.RoomSnapshot

	// state-transfer collection buffer, set during a takeover
	transferID string
	candidates []protocol.RoomSnapshot

	unsubs []func()
	stop   chan struct{}
	once   sync.Once
}

func NewSession(tr netx.Transport, st *store.Store, cfg types.RoomConfig, timing types.Timing, displayName string) (*Session, error) {
	id, err := LoadIdentity(st, displayName)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		timing:   timing,
		tr:       tr,
		st:       st,
		id:       id,
		relay:    NewEventRelay(defaultChatLog),
		now:      time.Now,
		role:     RoleIdle,
		presence: make(map[protocol.ClientID]protocol.PresenceStatus),
		lastSeen: make(map[protocol.ClientID]time.Time),
		stop:     make(chan struct{}),
	}
	s.unsubs = append(s.unsubs,
		tr.OnEvent(s.handleEvent),
		tr.OnConnectionChange(s.handleConnChange),
	)
	return s, nil
}

// Start resumes any persisted role (host restore, peer rejoin) and begins
// ticking. Safe to call exactly once.
func (s *Session) Start(ctx context.Context) {
	go s.run(ctx)
	go s.bootstrap(ctx)
}

// Close tears the session down without leaving the room.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.stop)
		for _, unsub := range s.unsubs {
			unsub()
		}
		_ = s.tr.Disconnect("session closed")
	})
}

func (s *Session) run(ctx context.Context) {
	t := time.NewTicker(tickInterval(s.timing))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-t.C:
			s.Tick(now)
		}
	}
}

// Tick performs all time-driven work due at now. Exposed so tests can
// drive the state machine with a fake clock.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	role := s.role
	s.mu.Unlock()
	switch role {
	case RoleHost:
		s.presenceTick(now)
	case RolePeer:
		s.heartbeatTick(now)
		s.takeoverTick(now)
	}
}

func tickInterval(t types.Timing) time.Duration {
	iv := t.PresenceTick / 4
	if iv < 5*time.Millisecond {
		iv = 5 * time.Millisecond
	}
	if iv > 500*time.Millisecond {
		iv = 500 * time.Millisecond
	}
	return iv
}

func (s *Session) bootstrap(ctx context.Context) {
	snap, haveSnap := s.st.Snapshot()
	roomID, haveRoom := s.st.RoomID()

	switch {
	case haveSnap && snap.Metadata.HostClientID == s.id.ClientID:
		s.restoreHost(ctx, snap)
	case haveRoom:
		pref, _ := s.st.JoinPref(roomID)
		if haveSnap {
			if _, spect, ok := snap.Metadata.FindByClientID(s.id.ClientID); ok {
				pref = spect
			}
		}
		if _, err := s.JoinRoom(ctx, roomID, pref); err != nil {
			log.Printf("session: resume join %s failed: %v", roomID, err)
		}
	}
}

// CreateRoom claims a fresh room's public address and seats the creator
// as host. hostEpoch starts at 0, version at 1.
func (s *Session) CreateRoom(ctx context.Context) (protocol.RoomSnapshot, error) {
	s.mu.Lock()
	if s.role != RoleIdle {
		s.mu.Unlock()
		return protocol.RoomSnapshot{}, fmt.Errorf("already in room %s", s.roomID)
	}
	s.mu.Unlock()

	roomID := protocol.NewRoomID()
	roomAddr := protocol.RoomAddress(roomID)

	_ = s.tr.Disconnect("creating room")
	if err := s.tr.Initialize(ctx, roomAddr); err != nil {
		return protocol.RoomSnapshot{}, fmt.Errorf("claim room address: %w", err)
	}
	s.id.SetActive(roomAddr)

	now := s.now()
	seat := protocol.Participant{
		ClientID:    s.id.ClientID,
		PeerAddress: roomAddr,
		DisplayName: s.id.DisplayName,
		JoinedAt:    now.UnixMilli(),
	}
	snap := protocol.RoomSnapshot{
		Metadata: protocol.RoomMetadata{
			RoomID:       roomID,
			GameID:       s.cfg.GameID,
			HostAddress:  roomAddr,
			HostClientID: s.id.ClientID,
			HostName:     s.id.DisplayName,
			HostEpoch:    0,
			Players:      []protocol.Participant{seat},
			Spectators:   []protocol.Participant{},
			CreatedAt:    now.UnixMilli(),
			MaxPlayers:   s.cfg.MaxPlayers,
		},
		Version: 1,
	}

	s.mu.Lock()
	s.role = RoleHost
	s.roomID = roomID
	s.snap = &snap
	s.asSpectator = false
	s.lastSeen = map[protocol.ClientID]time.Time{s.id.ClientID: now}
	s.persistRoom()
	out := snap.Clone()
	s.mu.Unlock()

	log.Printf("session: created room %s as %s", roomID, roomAddr)
	return out, nil
}

func (s *Session) restoreHost(ctx context.Context, snap protocol.RoomSnapshot) {
	roomAddr := protocol.RoomAddress(snap.Metadata.RoomID)
	err := s.tr.Initialize(ctx, roomAddr)
	switch {
	case err == nil:
		s.id.SetActive(roomAddr)
		now := s.now()
		s.mu.Lock()
		s.role = RoleHost
		s.roomID = snap.Metadata.RoomID
		s.snap = &snap
		_, s.asSpectator, _ = snap.Metadata.FindByClientID(s.id.ClientID)
		s.lastSeen = make(map[protocol.ClientID]time.Time)
		for _, p := range snap.Metadata.Others("") {
			s.lastSeen[p.ClientID] = now
		}
		s.mu.Unlock()
		log.Printf("session: restored host role for room %s", snap.Metadata.RoomID)

	case isAddressTaken(err):
		// A takeover happened while we were offline; rejoin as an
		// ordinary participant preserving the last known role.
		_, spect, _ := snap.Metadata.FindByClientID(s.id.ClientID)
		log.Printf("session: room address held by new host, rejoining %s", snap.Metadata.RoomID)
		if _, jerr := s.JoinRoom(ctx, snap.Metadata.RoomID, spect); jerr != nil {
			log.Printf("session: rejoin after lost host failed: %v", jerr)
		}

	default:
		// Transient outage: stay idle/offline rather than demoting, so a
		// later restart can still restore the host role.
		log.Printf("session: host restore failed, staying offline: %v", err)
	}
}

// handleEvent dispatches one inbound transport event. Events carrying a
// hostEpoch below the locally known epoch are inert; join_request and
// request_state are exempt because their senders may not know the current
// epoch yet and both are answered with authoritative state rather than
// applied as state.
func (s *Session) handleEvent(ev protocol.Event) {
	s.mu.Lock()
	if s.roomID != "" && ev.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	known := s.knownEpochLocked()
	s.mu.Unlock()

	if ev.HostEpoch < known && ev.Type != protocol.EvtJoinRequest && ev.Type != protocol.EvtRequestState {
		return
	}

	switch ev.Type {
	case protocol.EvtJoinRequest:
		s.handleJoinRequest(ev)
	case protocol.EvtLeaveNotice:
		s.handleLeaveNotice(ev)
	case protocol.EvtRoleChangeRequest:
		s.handleRoleChange(ev)
	case protocol.EvtHeartbeat:
		s.handleHeartbeat(ev)
	case protocol.EvtRequestState:
		s.handleRequestState(ev)
	case protocol.EvtProvideState:
		s.handleProvideState(ev)
	case protocol.EvtChatEvent:
		s.handleChat(ev)
	case protocol.EvtPresenceUpdate:
		s.handlePresenceUpdate(ev)
	case protocol.EvtRoomSnapshot:
		s.handleRoomSnapshot(ev)
	}
}

func (s *Session) handleConnChange(c netx.ConnChange) {
	if !c.Connected {
		log.Printf("session: link to %s closed (%s)", c.Address, c.Reason)
	}
}

// handleRoomSnapshot installs an authoritative snapshot on the peer path
// and resolves the dual-host case: a snapshot with a newer epoch from a
// different host demotes a stale local host.
func (s *Session) handleRoomSnapshot(ev protocol.Event) {
	payload, err := protocol.DecodePayload[protocol.RoomSnapshotEvent](ev)
	if err != nil {
		return
	}
	snap := payload.Snapshot

	s.mu.Lock()
	known := s.knownEpochLocked()
	if snap.Metadata.HostEpoch < known {
		s.mu.Unlock()
		return
	}
	if snap.Metadata.HostEpoch == known && s.snap != nil && snap.Version < s.snap.Version {
		s.mu.Unlock()
		return
	}

	if s.role == RoleHost && snap.Metadata.HostClientID != s.id.ClientID && snap.Metadata.HostEpoch > known {
		roomID := s.roomID
		spect := s.asSpectator
		s.mu.Unlock()
		log.Printf("session: lost host role to %s (epoch %d), rejoining as peer", snap.Metadata.HostName, snap.Metadata.HostEpoch)
		go func() {
			if _, err := s.JoinRoom(context.Background(), roomID, spect); err != nil {
				log.Printf("session: rejoin after demotion failed: %v", err)
			}
		}()
		return
	}

	s.installSnapshotLocked(snap, ev.SenderAddress)
	s.mu.Unlock()
}

// installSnapshotLocked assumes s.mu is held and the epoch/version gates
// have passed.
func (s *Session) installSnapshotLocked(snap protocol.RoomSnapshot, sender protocol.PeerAddress) {
	cp := snap.Clone()
	s.snap = &cp
	s.roomID = cp.Metadata.RoomID
	if _, spect, ok := cp.Metadata.FindByClientID(s.id.ClientID); ok {
		s.asSpectator = spect
	}
	s.persistRoom()

	if sender == cp.Metadata.HostAddress {
		s.lastHostSignal = s.now()
	}

	if s.admission != nil && s.seatedInLocked(cp.Metadata) {
		select {
		case s.admission <- cp.Clone():
		default:
		}
		s.admission = nil
	}
}

func (s *Session) seatedInLocked(meta protocol.RoomMetadata) bool {
	if _, _, ok := meta.FindByClientID(s.id.ClientID); ok {
		return true
	}
	if _, _, ok := meta.FindByAddress(s.tr.LocalAddress()); ok {
		return true
	}
	return false
}

func (s *Session) handlePresenceUpdate(ev protocol.Event) {
	payload, err := protocol.DecodePayload[protocol.PresenceUpdate](ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RolePeer || s.snap == nil {
		return
	}
	s.presence = payload.Statuses
	if ev.SenderAddress == s.snap.Metadata.HostAddress {
		s.lastHostSignal = s.now()
	}
}

// handleChat dedups by message id, records, and (host only) re-broadcasts
// accepted messages from other senders.
func (s *Session) handleChat(ev protocol.Event) {
	payload, err := protocol.DecodePayload[protocol.ChatEvent](ev)
	if err != nil {
		return
	}
	if !s.relay.Accept(payload.Message) {
		return
	}
	s.mu.Lock()
	rebroadcast := s.role == RoleHost && ev.SenderAddress != s.tr.LocalAddress()
	var out protocol.Event
	if rebroadcast {
		out = s.eventLocked(protocol.EvtChatEvent, payload)
	}
	s.mu.Unlock()
	if rebroadcast {
		_ = s.tr.Broadcast(out)
	}
}

// handleRequestState answers from any participant, not just the host;
// this is how the next host gathers candidates during a takeover.
func (s *Session) handleRequestState(ev protocol.Event) {
	payload, err := protocol.DecodePayload[protocol.RequestState](ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.snap == nil {
		s.mu.Unlock()
		return
	}
	reply := s.eventLocked(protocol.EvtProvideState, protocol.ProvideState{
		RequestID:       payload.RequestID,
		TargetHostEpoch: payload.TargetHostEpoch,
		Snapshot:        s.snap.Clone(),
	})
	s.mu.Unlock()
	_ = s.tr.SendTo(ev.SenderAddress, reply)
}

func (s *Session) handleProvideState(ev protocol.Event) {
	payload, err := protocol.DecodePayload[protocol.ProvideState](ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.transferID != "" && payload.RequestID == s.transferID {
		s.candidates = append(s.candidates, payload.Snapshot.Clone())
	}
	s.mu.Unlock()
}

// SendChat publishes a user message.
func (s *Session) SendChat(body string) error { return s.sendMessage(protocol.MsgUser, body) }

// SendMove publishes a game-layer move message; the payload is opaque to
// this core.
func (s *Session) SendMove(body string) error { return s.sendMessage(protocol.MsgMove, body) }

func (s *Session) sendMessage(kind protocol.MessageKind, body string) error {
	msg := protocol.ChatMessage{
		ID:         protocol.NewMessageID(),
		Kind:       kind,
		SenderID:   s.id.ClientID,
		SenderName: s.id.DisplayName,
		Body:       body,
		SentAt:     s.now().UnixMilli(),
	}
	s.relay.Accept(msg)

	s.mu.Lock()
	if s.snap == nil {
		s.mu.Unlock()
		return fmt.Errorf("not in a room")
	}
	ev := s.eventLocked(protocol.EvtChatEvent, protocol.ChatEvent{Message: msg})
	isHost := s.role == RoleHost
	hostAddr := s.snap.Metadata.HostAddress
	s.mu.Unlock()

	if isHost {
		return s.tr.Broadcast(ev)
	}
	return s.tr.SendTo(hostAddr, ev)
}

// ChangeRole moves the local participant between players and spectators.
// Only permitted while the game is in its setup phase.
func (s *Session) ChangeRole(asSpectator bool) error {
	s.mu.Lock()
	if s.snap == nil {
		s.mu.Unlock()
		return fmt.Errorf("not in a room")
	}
	if protocol.GamePhase(s.snap.GameState) != "setup" {
		s.mu.Unlock()
		return fmt.Errorf("role changes are only allowed during setup")
	}
	roomID := s.roomID
	hostAddr := s.snap.Metadata.HostAddress
	isHost := s.role == RoleHost
	s.mu.Unlock()

	_ = s.st.SetJoinPref(roomID, asSpectator)

	if !isHost {
		s.mu.Lock()
		ev := s.eventLocked(protocol.EvtRoleChangeRequest, protocol.RoleChangeRequest{AsSpectator: asSpectator})
		s.mu.Unlock()
		return s.tr.SendTo(hostAddr, ev)
	}

	// Host mutates its own seat directly.
	s.mu.Lock()
	res := applyRoleChange(s.snap, s.tr.LocalAddress(), asSpectator)
	var snapEv protocol.Event
	if res.Changed {
		s.asSpectator = asSpectator
		s.persistRoom()
		snapEv = s.snapshotEventLocked()
	}
	s.mu.Unlock()
	if res.Changed {
		_ = s.tr.Broadcast(snapEv)
		s.announce(res.Note, res.Seat.DisplayName)
	}
	return nil
}

// Leave notifies the host (peer path), clears all local room state, and
// releases the transport address.
func (s *Session) Leave() {
	s.mu.Lock()
	role := s.role
	var hostAddr protocol.PeerAddress
	if s.snap != nil {
		hostAddr = s.snap.Metadata.HostAddress
	}
	var notice protocol.Event
	if role == RolePeer && hostAddr != "" {
		notice = s.eventLocked(protocol.EvtLeaveNotice, protocol.LeaveNotice{DisplayName: s.id.DisplayName})
	}
	s.role = RoleIdle
	s.roomID = ""
	s.snap = nil
	s.joinedOK = false
	s.admission = nil
	s.presence = make(map[protocol.ClientID]protocol.PresenceStatus)
	s.lastSeen = make(map[protocol.ClientID]time.Time)
	s.mu.Unlock()

	if notice.Type != "" {
		_ = s.tr.SendTo(hostAddr, notice)
	}
	_ = s.st.ClearRoom()
	_ = s.tr.Disconnect("left room")
}

// Read models.

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) RoomID() protocol.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) ClientID() protocol.ClientID { return s.id.ClientID }

func (s *Session) Snapshot() (protocol.RoomSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return protocol.RoomSnapshot{}, false
	}
	return s.snap.Clone(), true
}

func (s *Session) Presence() map[protocol.ClientID]protocol.PresenceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[protocol.ClientID]protocol.PresenceStatus, len(s.presence))
	for k, v := range s.presence {
		out[k] = v
	}
	return out
}

func (s *Session) Messages() []protocol.ChatMessage { return s.relay.Messages() }

// Subscribe exposes the message stream for the UI collaborator.
func (s *Session) Subscribe() <-chan protocol.ChatMessage { return s.relay.Subscribe() }

// Internals shared across files. All *Locked helpers assume s.mu is held.

func (s *Session) knownEpochLocked() protocol.HostEpoch {
	if s.snap == nil {
		return 0
	}
	return s.snap.Metadata.HostEpoch
}

func (s *Session) eventLocked(t protocol.EventType, payload any) protocol.Event {
	return protocol.NewEvent(t, payload, s.tr.LocalAddress(), s.roomID, s.knownEpochLocked())
}

func (s *Session) snapshotEventLocked() protocol.Event {
	return s.eventLocked(protocol.EvtRoomSnapshot, protocol.RoomSnapshotEvent{Snapshot: s.snap.Clone()})
}

func (s *Session) persistRoom() {
	if s.snap == nil {
		return
	}
	_ = s.st.SetRoomID(s.roomID)
	_ = s.st.SetMetadata(s.snap.Metadata)
	_ = s.st.SetSnapshot(*s.snap)
}
