// Package store is the single source of truth for lobby state. The engine
// treats it as a keyed record store; implementations exist in memory and on
// Postgres behind the same interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/parlorgames/trivia/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write collides with an existing key.
	ErrConflict = errors.New("store: conflict")
)

// Store persists lobbies, players, and answers. Deleting a lobby cascades to
// everything it owns as one logical operation.
//
// The store itself only guarantees per-call consistency; callers that need a
// wider atomicity window (check-then-write across calls) must serialize per
// lobby, which the engine does.
type Store interface {
	CreateLobby(ctx context.Context, l *models.Lobby) error
	GetLobby(ctx context.Context, code string) (*models.Lobby, error)
	UpdateLobby(ctx context.Context, l *models.Lobby) error
	DeleteLobby(ctx context.Context, code string) error
	// ExpiredLobbyCodes returns codes of lobbies whose expiry has passed.
	ExpiredLobbyCodes(ctx context.Context, now time.Time) ([]string, error)

	CreatePlayer(ctx context.Context, p *models.Player) error
	GetPlayer(ctx context.Context, code, sessionID string) (*models.Player, error)
	// FindPlayerBySession locates a player record by session identity across
	// all lobbies. A session lives in at most one lobby at a time.
	FindPlayerBySession(ctx context.Context, sessionID string) (*models.Player, error)
	UpdatePlayer(ctx context.Context, p *models.Player) error
	DeletePlayer(ctx context.Context, code, sessionID string) error
	// ListPlayers returns the roster in join order.
	ListPlayers(ctx context.Context, code string) ([]*models.Player, error)

	// CreateAnswer writes an answer record, returning ErrConflict if one
	// already exists for the same (session, lobby, question index) key.
	CreateAnswer(ctx context.Context, a *models.PlayerAnswer) error
	// ListAnswers returns a question's answers in submission order.
	ListAnswers(ctx context.Context, code string, questionIndex int) ([]*models.PlayerAnswer, error)
}
