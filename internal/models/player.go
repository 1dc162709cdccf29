package models

import "time"

// Player is one participant in a lobby. The record survives disconnects and is
// only removed on an explicit leave, a disband, or lobby expiry.
type Player struct {
	SessionID   string    `json:"id"`
	LobbyCode   string    `json:"-"`
	DisplayName string    `json:"name"`
	Score       int       `json:"score"`
	Connected   bool      `json:"connected"`
	LastSeenAt  time.Time `json:"-"`
	JoinedAt    time.Time `json:"-"`
}
