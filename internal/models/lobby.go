package models

import "time"

// LobbyStatus is the lobby's position in its lifecycle state machine.
type LobbyStatus string

const (
	StatusWaiting       LobbyStatus = "waiting"
	StatusModeSelection LobbyStatus = "mode_selection"
	StatusPlaying       LobbyStatus = "playing"
	StatusReveal        LobbyStatus = "reveal"
	StatusResults       LobbyStatus = "results"
)

// Lobby is one active game room, identified by a 4-letter code.
// Codes are stored uppercase; input is normalized before store lookups.
type Lobby struct {
	Code                 string      `json:"code"`
	HostSessionID        string      `json:"host_session_id"`
	Status               LobbyStatus `json:"status"`
	GameMode             string      `json:"game_mode,omitempty"`
	CurrentQuestionIndex int         `json:"current_question_index"`
	QuestionStartedAt    *time.Time  `json:"question_started_at,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	ExpiresAt            time.Time   `json:"expires_at"`
}
