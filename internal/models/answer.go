package models

import "time"

// PlayerAnswer is one participant's response to one question. The
// (session, lobby, question index) key is unique; a second submission for the
// same key is rejected, never overwritten.
type PlayerAnswer struct {
	PlayerSessionID string    `json:"player_session_id"`
	LobbyCode       string    `json:"lobby_code"`
	QuestionIndex   int       `json:"question_index"`
	AnswerIndex     int       `json:"answer_index"`
	TimeTaken       float64   `json:"time_taken"`
	PointsEarned    int       `json:"points_earned"`
	AnsweredAt      time.Time `json:"answered_at"`
}
