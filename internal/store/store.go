// Package store persists the small set of values that must survive a
// process restart: identity, the active room, and join preferences.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"meshroom/internal/protocol"
)

// KV is the minimal persistence core. Implementations: Memory (tests,
// throwaway peers) and SQLite (real installations).
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

const (
	keyClientID     = "clientId"
	keyDevicePeerID = "devicePeerId"
	keyActivePeerID = "activePeerId"
	keyDisplayName  = "displayName"
	keyRoomID       = "roomId"
	keyMetadata     = "metadata"
	keySnapshot     = "snapshot"
	joinPrefPrefix  = "joinPref/"
)

// Store exposes typed accessors over a KV backend.
type Store struct {
	kv KV
}

func New(kv KV) *Store { return &Store{kv: kv} }

func (s *Store) Close() error { return s.kv.Close() }

func (s *Store) ClientID() (protocol.ClientID, bool) {
	v, ok := s.getString(keyClientID)
	return protocol.ClientID(v), ok
}

func (s *Store) SetClientID(id protocol.ClientID) error {
	return s.kv.Set(keyClientID, string(id))
}

func (s *Store) DevicePeerID() (protocol.PeerAddress, bool) {
	v, ok := s.getString(keyDevicePeerID)
	return protocol.PeerAddress(v), ok
}

func (s *Store) SetDevicePeerID(addr protocol.PeerAddress) error {
	return s.kv.Set(keyDevicePeerID, string(addr))
}

func (s *Store) ActivePeerID() (protocol.PeerAddress, bool) {
	v, ok := s.getString(keyActivePeerID)
	return protocol.PeerAddress(v), ok
}

func (s *Store) SetActivePeerID(addr protocol.PeerAddress) error {
	return s.kv.Set(keyActivePeerID, string(addr))
}

func (s *Store) DisplayName() (string, bool) { return s.getString(keyDisplayName) }

func (s *Store) SetDisplayName(name string) error { return s.kv.Set(keyDisplayName, name) }

func (s *Store) RoomID() (protocol.RoomID, bool) {
	v, ok := s.getString(keyRoomID)
	return protocol.RoomID(v), ok
}

func (s *Store) SetRoomID(id protocol.RoomID) error { return s.kv.Set(keyRoomID, string(id)) }

func (s *Store) Metadata() (protocol.RoomMetadata, bool) {
	var m protocol.RoomMetadata
	ok := s.getJSON(keyMetadata, &m)
	return m, ok
}

func (s *Store) SetMetadata(m protocol.RoomMetadata) error { return s.setJSON(keyMetadata, m) }

func (s *Store) Snapshot() (protocol.RoomSnapshot, bool) {
	var snap protocol.RoomSnapshot
	ok := s.getJSON(keySnapshot, &snap)
	return snap, ok
}

func (s *Store) SetSnapshot(snap protocol.RoomSnapshot) error { return s.setJSON(keySnapshot, snap) }

// ClearRoom wipes the active room (id, metadata, snapshot) but keeps
// identity and join preferences.
func (s *Store) ClearRoom() error {
	for _, k := range []string{keyRoomID, keyMetadata, keySnapshot} {
		if err := s.kv.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) JoinPref(room protocol.RoomID) (asSpectator bool, ok bool) {
	v, ok := s.getString(joinPrefPrefix + string(room))
	return v == "spectator", ok
}

func (s *Store) SetJoinPref(room protocol.RoomID, asSpectator bool) error {
	v := "player"
	if asSpectator {
		v = "spectator"
	}
	return s.kv.Set(joinPrefPrefix+string(room), v)
}

func (s *Store) getString(key string) (string, bool) {
	v, ok, err := s.kv.Get(key)
	if err != nil {
		return "", false
	}
	return v, ok && v != ""
}

func (s *Store) getJSON(key string, out any) bool {
	v, ok, err := s.kv.Get(key)
	if err != nil || !ok || v == "" {
		return false
	}
	return json.Unmarshal([]byte(v), out) == nil
}

func (s *Store) setJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(key, string(raw))
}

// Memory is an in-memory KV for tests and ephemeral peers.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory { return &Memory{data: make(map[string]string)} }

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
