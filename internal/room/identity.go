package room

import (
	"fmt"

	"meshroom/internal/protocol"
	"meshroom/internal/store"
)

// Identity holds the stable per-installation identifiers. ClientID and
// DevicePeerID are minted once and persisted; ActivePeerID tracks
// whichever transport address is currently initialized (the room's public
// address while hosting).
type Identity struct {
	st *store.Store

	ClientID     protocol.ClientID
	DevicePeerID protocol.PeerAddress
	DisplayName  string
}

// LoadIdentity loads or mints the installation identity. A non-empty
// displayName overrides and persists a new name.
func LoadIdentity(st *store.Store, displayName string) (*Identity, error) {
	id := &Identity{st: st}

	cid, ok := st.ClientID()
	if !ok {
		cid = protocol.NewClientID()
		if err := st.SetClientID(cid); err != nil {
			return nil, fmt.Errorf("persist clientId: %w", err)
		}
	}
	id.ClientID = cid

	dev, ok := st.DevicePeerID()
	if !ok {
		dev = protocol.NewPeerAddress()
		if err := st.SetDevicePeerID(dev); err != nil {
			return nil, fmt.Errorf("persist devicePeerId: %w", err)
		}
	}
	id.DevicePeerID = dev

	if displayName != "" {
		id.DisplayName = displayName
		if err := st.SetDisplayName(displayName); err != nil {
			return nil, fmt.Errorf("persist displayName: %w", err)
		}
	} else if name, ok := st.DisplayName(); ok {
		id.DisplayName = name
	} else {
		id.DisplayName = "Player-" + string(cid)[:8]
		if err := st.SetDisplayName(id.DisplayName); err != nil {
			return nil, fmt.Errorf("persist displayName: %w", err)
		}
	}
	return id, nil
}

// SetActive records the currently initialized transport address.
func (id *Identity) SetActive(addr protocol.PeerAddress) {
	_ = id.st.SetActivePeerID(addr)
}

// Reset mints a fresh installation identity. Existing seats held under the
// old clientId become orphans for their hosts to expire.
func (id *Identity) Reset() error {
	id.ClientID = protocol.NewClientID()
	id.DevicePeerID = protocol.NewPeerAddress()
	if err := id.st.SetClientID(id.ClientID); err != nil {
		return err
	}
	return id.st.SetDevicePeerID(id.DevicePeerID)
}
