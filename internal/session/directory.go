// Package session maps transient connection ids to stable session identities.
// A binding exists only while its connection is live; durable participant
// state lives in the store, not here.
package session

import (
	"errors"
	"sync"
	"time"
)

// ErrUnbound is returned when a connection has no binding.
var ErrUnbound = errors.New("session: connection not bound")

// Role describes how a binding's identity registered with its lobby.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Binding links one live connection to a session identity and its lobby. The
// role is fixed at bind time and is authoritative for host checks; it is not
// re-derived from the lobby on each action.
type Binding struct {
	ConnID      string
	SessionID   string
	LobbyCode   string
	Role        Role
	ConnectedAt time.Time
}

// Directory is the process-wide registry of live bindings. At most one
// binding exists per connection; rebinding replaces the previous entry.
type Directory struct {
	mu       sync.Mutex
	bindings map[string]Binding
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{bindings: make(map[string]Binding)}
}

// Bind records or replaces the binding for connID.
func (d *Directory) Bind(connID, sessionID, lobbyCode string, role Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	connectedAt := time.Now()
	if prev, ok := d.bindings[connID]; ok {
		connectedAt = prev.ConnectedAt
	}
	d.bindings[connID] = Binding{
		ConnID:      connID,
		SessionID:   sessionID,
		LobbyCode:   lobbyCode,
		Role:        role,
		ConnectedAt: connectedAt,
	}
}

// Lookup resolves the binding for connID.
func (d *Directory) Lookup(connID string) (Binding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bindings[connID]
	if !ok {
		return Binding{}, ErrUnbound
	}
	return b, nil
}

// Unbind removes the binding for connID, if any.
func (d *Directory) Unbind(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bindings, connID)
}

// UnbindLobby removes every binding attached to the given lobby. Used when a
// lobby is disbanded or expires.
func (d *Directory) UnbindLobby(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, b := range d.bindings {
		if b.LobbyCode == code {
			delete(d.bindings, id)
		}
	}
}

// SweepStale removes bindings with no lobby that have been idle longer than
// maxAge. Live gameplay bindings always carry a lobby code, so this only
// collects connections that bound and then never joined anything.
func (d *Directory) SweepStale(maxAge time.Duration, now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, b := range d.bindings {
		if b.LobbyCode == "" && now.Sub(b.ConnectedAt) > maxAge {
			delete(d.bindings, id)
			removed++
		}
	}
	return removed
}
