package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EvtJoinRequest       EventType = "join_request"
	EvtLeaveNotice       EventType = "leave_notice"
	EvtRoleChangeRequest EventType = "role_change_request"
	EvtChatEvent         EventType = "chat_event"
	EvtHeartbeat         EventType = "heartbeat"
	EvtPresenceUpdate    EventType = "presence_update"
	EvtRoomSnapshot      EventType = "room_snapshot"
	EvtRequestState      EventType = "request_state"
	EvtProvideState      EventType = "provide_state"
)

// Event is the wire envelope. Payload shape is determined by Type; decode
// with the typed payload structs below.
type Event struct {
	Type          EventType       `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	SenderAddress PeerAddress     `json:"senderAddress"`
	RoomID        RoomID          `json:"roomId"`
	Timestamp     int64           `json:"timestamp"`
	HostEpoch     HostEpoch       `json:"hostEpoch"`
}

// HostEpoch is the monotonic host-generation counter. Events carrying an
// epoch below the locally known one are inert.
type HostEpoch int64

type JoinRequest struct {
	ClientID    ClientID `json:"clientId,omitempty"`
	DisplayName string   `json:"displayName"`
	AsSpectator bool     `json:"asSpectator"`
}

type LeaveNotice struct {
	DisplayName string `json:"displayName"`
}

type RoleChangeRequest struct {
	AsSpectator bool `json:"asSpectator"`
}

type ChatEvent struct {
	Message ChatMessage `json:"message"`
}

type Heartbeat struct {
	ClientID ClientID `json:"clientId,omitempty"`
}

type PresenceUpdate struct {
	Statuses map[ClientID]PresenceStatus `json:"statuses"`
}

type RoomSnapshotEvent struct {
	Snapshot RoomSnapshot `json:"snapshot"`
}

type RequestState struct {
	RequestID       string    `json:"requestId"`
	TargetHostEpoch HostEpoch `json:"targetHostEpoch"`
	KnownVersion    int64     `json:"knownVersion"`
}

type ProvideState struct {
	RequestID       string       `json:"requestId"`
	TargetHostEpoch HostEpoch    `json:"targetHostEpoch"`
	Snapshot        RoomSnapshot `json:"snapshot"`
}

// NewEvent builds an envelope with the payload marshaled in. Payload types
// are the structs above; anything else is a programming error and the
// marshal failure surfaces as an empty payload.
func NewEvent(t EventType, payload any, sender PeerAddress, room RoomID, epoch HostEpoch) Event {
	raw, _ := json.Marshal(payload)
	return Event{
		Type:          t,
		Payload:       raw,
		SenderAddress: sender,
		RoomID:        room,
		Timestamp:     time.Now().UnixMilli(),
		HostEpoch:     epoch,
	}
}

// DecodePayload unmarshals the envelope payload into the concrete shape
// for its type.
func DecodePayload[T any](ev Event) (T, error) {
	var out T
	if len(ev.Payload) == 0 {
		return out, fmt.Errorf("%s: empty payload", ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("%s: decode payload: %w", ev.Type, err)
	}
	return out, nil
}

func Encode(ev Event) ([]byte, error) { return json.Marshal(ev) }

func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
