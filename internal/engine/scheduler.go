package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/parlorgames/trivia/internal/broadcast"
	"github.com/parlorgames/trivia/internal/models"
	"github.com/parlorgames/trivia/internal/scoring"
	"github.com/parlorgames/trivia/internal/session"
	"github.com/parlorgames/trivia/internal/store"
)

// AnswerAck is the direct reply to submit_answer.
type AnswerAck struct {
	QuestionIndex int `json:"question_index"`
	AnswerIndex   int `json:"answer_index"`
}

// answerRespondent is one entry in a reveal's per-option stats.
type answerRespondent struct {
	Name      string `json:"name"`
	Initial   string `json:"initial"`
	Points    int    `json:"points"`
	SessionID string `json:"session_id"`
}

// answerOptionStats groups respondents under the option they chose, in
// original answer order.
type answerOptionStats struct {
	Players []answerRespondent `json:"players"`
}

// finalScore is one row of the ranked end-of-game list.
type finalScore struct {
	Name      string `json:"name"`
	Score     int    `json:"score"`
	SessionID string `json:"session_id"`
}

// beginQuestion starts the lobby's current question: stamps the clock,
// broadcasts the payload, and arms the cutoff deadline. Fired from a timer,
// so every precondition miss is a silent abort.
func (e *Engine) beginQuestion(code string) {
	ctx := context.Background()
	lock := e.lobbyLock(code)
	lock.Lock()
	defer lock.Unlock()
	e.beginQuestionLocked(ctx, code)
}

func (e *Engine) beginQuestionLocked(ctx context.Context, code string) {
	lobby, err := e.store.GetLobby(ctx, code)
	if err != nil || lobby.Status != models.StatusPlaying {
		return
	}
	mode, ok := e.modes.Get(lobby.GameMode)
	if !ok {
		e.logger.WithFields(logrus.Fields{"lobby": code, "mode": lobby.GameMode}).Error("lobby references unknown mode")
		return
	}

	idx := lobby.CurrentQuestionIndex
	if idx >= len(mode.Questions) {
		e.endGameLocked(ctx, lobby)
		return
	}

	startedAt := e.clock.Now()
	lobby.QuestionStartedAt = &startedAt
	if err := e.store.UpdateLobby(ctx, lobby); err != nil {
		e.logger.WithField("lobby", code).WithError(err).Error("stamp question start")
		return
	}

	question := mode.Questions[idx]
	e.logger.WithFields(logrus.Fields{"lobby": code, "question": idx + 1}).Info("question started")
	e.gateway.ToRoom(code, broadcast.Message{
		"type":            "question_started",
		"question_index":  idx,
		"question":        question.Text,
		"answers":         question.Answers,
		"time_limit":      mode.TimePerQuestion,
		"total_questions": len(mode.Questions),
	})
	e.record(ctx, code, "question_started", "", map[string]interface{}{"question_index": idx})

	limit := time.Duration(mode.TimePerQuestion) * time.Second
	e.clock.AfterFunc(limit, func() {
		e.endQuestion(code, idx)
	})
}

// SubmitAnswer records one player's answer to the current question and adds
// the earned points to their running score. Exactly one answer may exist per
// (session, lobby, question) key; the store enforces the key and the lobby
// lock makes the check-and-write atomic against the closing deadline.
func (e *Engine) SubmitAnswer(ctx context.Context, connID string, questionIndex, answerIndex int) (*AnswerAck, error) {
	binding, err := e.sessions.Lookup(connID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", ErrNotFound)
	}
	if binding.Role != session.RolePlayer {
		return nil, fmt.Errorf("only players can submit answers: %w", ErrUnauthorized)
	}
	code := binding.LobbyCode

	lock := e.lobbyLock(code)
	lock.Lock()
	defer lock.Unlock()

	lobby, err := e.store.GetLobby(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lobby not found: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("submit answer: %w", err)
	}
	if lobby.Status != models.StatusPlaying {
		return nil, fmt.Errorf("game not in progress: %w", ErrWrongPhase)
	}
	if lobby.QuestionStartedAt == nil {
		return nil, fmt.Errorf("question not started: %w", ErrNotStarted)
	}
	if questionIndex != lobby.CurrentQuestionIndex {
		return nil, fmt.Errorf("question %d is not open: %w", questionIndex, ErrWrongPhase)
	}

	mode, ok := e.modes.Get(lobby.GameMode)
	if !ok {
		return nil, fmt.Errorf("unknown game mode %q: %w", lobby.GameMode, ErrInvalidMode)
	}
	question := mode.Questions[questionIndex]

	elapsed := e.clock.Now().Sub(*lobby.QuestionStartedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	correct := answerIndex == question.Correct
	points := scoring.Points(elapsed, float64(mode.TimePerQuestion), correct)

	err = e.store.CreateAnswer(ctx, &models.PlayerAnswer{
		PlayerSessionID: binding.SessionID,
		LobbyCode:       code,
		QuestionIndex:   questionIndex,
		AnswerIndex:     answerIndex,
		TimeTaken:       elapsed,
		PointsEarned:    points,
		AnsweredAt:      e.clock.Now(),
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("already answered this question: %w", ErrAlreadyAnswered)
	}
	if err != nil {
		return nil, fmt.Errorf("submit answer: %w", err)
	}

	if player, err := e.store.GetPlayer(ctx, code, binding.SessionID); err == nil {
		player.Score += points
		player.LastSeenAt = e.clock.Now()
		if err := e.store.UpdatePlayer(ctx, player); err != nil {
			e.logger.WithField("lobby", code).WithError(err).Warn("add points to player")
		}
	}

	e.logger.WithFields(logrus.Fields{
		"lobby":    code,
		"session":  binding.SessionID,
		"question": questionIndex,
		"answer":   answerIndex,
		"correct":  correct,
		"points":   points,
	}).Info("answer accepted")
	e.record(ctx, code, "answer_accepted", binding.SessionID, map[string]interface{}{
		"question_index": questionIndex,
		"answer_index":   answerIndex,
		"points":         points,
	})

	// No room broadcast here: scores only surface at round close.
	return &AnswerAck{QuestionIndex: questionIndex, AnswerIndex: answerIndex}, nil
}

// endQuestion closes the round the deadline was armed for. A stale deadline
// (lobby gone, phase moved on, index advanced) is a no-op.
func (e *Engine) endQuestion(code string, questionIndex int) {
	ctx := context.Background()
	lock := e.lobbyLock(code)
	lock.Lock()
	defer lock.Unlock()

	lobby, err := e.store.GetLobby(ctx, code)
	if err != nil || lobby.Status != models.StatusPlaying || lobby.CurrentQuestionIndex != questionIndex {
		return
	}
	mode, ok := e.modes.Get(lobby.GameMode)
	if !ok {
		return
	}
	question := mode.Questions[questionIndex]

	answers, err := e.store.ListAnswers(ctx, code, questionIndex)
	if err != nil {
		e.logger.WithField("lobby", code).WithError(err).Error("list answers at round close")
		return
	}
	names := make(map[string]string)
	for _, p := range e.playersPayload(ctx, code) {
		names[p.SessionID] = p.DisplayName
	}

	stats := make([]answerOptionStats, len(question.Answers))
	for i := range stats {
		stats[i].Players = []answerRespondent{}
	}
	for _, a := range answers {
		if a.AnswerIndex < 0 || a.AnswerIndex >= len(stats) {
			continue
		}
		name, ok := names[a.PlayerSessionID]
		if !ok {
			continue // player left between answering and the close
		}
		stats[a.AnswerIndex].Players = append(stats[a.AnswerIndex].Players, answerRespondent{
			Name:      name,
			Initial:   initialOf(name),
			Points:    a.PointsEarned,
			SessionID: a.PlayerSessionID,
		})
	}

	lobby.Status = models.StatusReveal
	lobby.QuestionStartedAt = nil
	if err := e.store.UpdateLobby(ctx, lobby); err != nil {
		e.logger.WithField("lobby", code).WithError(err).Error("move lobby to reveal")
		return
	}

	e.logger.WithFields(logrus.Fields{"lobby": code, "question": questionIndex + 1}).Info("question ended")

	// Updated scores first, then the reveal itself.
	e.broadcastRoster(ctx, code)
	e.gateway.ToRoom(code, broadcast.Message{
		"type":           "question_ended",
		"question_index": questionIndex,
		"correct_answer": question.Correct,
		"answer_stats":   stats,
	})
	e.record(ctx, code, "question_ended", "", map[string]interface{}{"question_index": questionIndex})

	e.clock.AfterFunc(e.cfg.RevealDelay, func() {
		e.nextQuestion(code, questionIndex)
	})
}

// nextQuestion is the only place the question index advances: one step
// forward, never back, then straight into the next round.
func (e *Engine) nextQuestion(code string, questionIndex int) {
	ctx := context.Background()
	lock := e.lobbyLock(code)
	lock.Lock()
	defer lock.Unlock()

	lobby, err := e.store.GetLobby(ctx, code)
	if err != nil || lobby.Status != models.StatusReveal || lobby.CurrentQuestionIndex != questionIndex {
		return
	}

	lobby.CurrentQuestionIndex++
	lobby.Status = models.StatusPlaying
	if err := e.store.UpdateLobby(ctx, lobby); err != nil {
		e.logger.WithField("lobby", code).WithError(err).Error("advance question index")
		return
	}

	e.beginQuestionLocked(ctx, code)
}

// endGameLocked moves the lobby to results and broadcasts the ranked list.
// Ties rank by join order: the roster comes back in join order and the sort
// is stable. Caller holds the lobby lock.
func (e *Engine) endGameLocked(ctx context.Context, lobby *models.Lobby) {
	lobby.Status = models.StatusResults
	lobby.QuestionStartedAt = nil
	if err := e.store.UpdateLobby(ctx, lobby); err != nil {
		e.logger.WithField("lobby", lobby.Code).WithError(err).Error("move lobby to results")
		return
	}

	players := e.playersPayload(ctx, lobby.Code)
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Score > players[j].Score
	})

	scores := make([]finalScore, 0, len(players))
	for _, p := range players {
		scores = append(scores, finalScore{Name: p.DisplayName, Score: p.Score, SessionID: p.SessionID})
	}
	var winner interface{}
	if len(scores) > 0 {
		winner = scores[0]
	}

	e.logger.WithField("lobby", lobby.Code).Info("game ended")
	e.gateway.ToRoom(lobby.Code, broadcast.Message{
		"type":         "game_ended",
		"final_scores": scores,
		"winner":       winner,
	})
	e.record(ctx, lobby.Code, "game_ended", "", nil)
}

func initialOf(name string) string {
	for _, r := range name {
		return strings.ToUpper(string(r))
	}
	return ""
}
