package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parlorgames/trivia/internal/models"
)

// MemoryStore is the in-memory Store used by default and in tests. All records
// are copied on the way in and out so callers never alias store state.
type MemoryStore struct {
	mu      sync.Mutex
	lobbies map[string]*models.Lobby
	// players holds each lobby's roster in join order.
	players map[string][]*models.Player
	answers map[string][]*models.PlayerAnswer
	// answerKeys tracks (session, lobby, question) keys for duplicate rejection.
	answerKeys map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lobbies:    make(map[string]*models.Lobby),
		players:    make(map[string][]*models.Player),
		answers:    make(map[string][]*models.PlayerAnswer),
		answerKeys: make(map[string]struct{}),
	}
}

func answerKey(sessionID, code string, questionIndex int) string {
	return fmt.Sprintf("%s|%s|%d", sessionID, code, questionIndex)
}

func copyLobby(l *models.Lobby) *models.Lobby {
	c := *l
	if l.QuestionStartedAt != nil {
		t := *l.QuestionStartedAt
		c.QuestionStartedAt = &t
	}
	return &c
}

func copyPlayer(p *models.Player) *models.Player {
	c := *p
	return &c
}

func (s *MemoryStore) CreateLobby(_ context.Context, l *models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lobbies[l.Code]; exists {
		return ErrConflict
	}
	s.lobbies[l.Code] = copyLobby(l)
	return nil
}

func (s *MemoryStore) GetLobby(_ context.Context, code string) (*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[code]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLobby(l), nil
}

func (s *MemoryStore) UpdateLobby(_ context.Context, l *models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[l.Code]; !ok {
		return ErrNotFound
	}
	s.lobbies[l.Code] = copyLobby(l)
	return nil
}

func (s *MemoryStore) DeleteLobby(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[code]; !ok {
		return ErrNotFound
	}
	delete(s.lobbies, code)
	delete(s.players, code)
	for _, a := range s.answers[code] {
		delete(s.answerKeys, answerKey(a.PlayerSessionID, code, a.QuestionIndex))
	}
	delete(s.answers, code)
	return nil
}

func (s *MemoryStore) ExpiredLobbyCodes(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var codes []string
	for code, l := range s.lobbies {
		if l.ExpiresAt.Before(now) {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (s *MemoryStore) CreatePlayer(_ context.Context, p *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.players[p.LobbyCode] {
		if existing.SessionID == p.SessionID {
			return ErrConflict
		}
	}
	s.players[p.LobbyCode] = append(s.players[p.LobbyCode], copyPlayer(p))
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, code, sessionID string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players[code] {
		if p.SessionID == sessionID {
			return copyPlayer(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindPlayerBySession(_ context.Context, sessionID string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, roster := range s.players {
		for _, p := range roster {
			if p.SessionID == sessionID {
				return copyPlayer(p), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdatePlayer(_ context.Context, p *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.players[p.LobbyCode]
	for i, existing := range roster {
		if existing.SessionID == p.SessionID {
			roster[i] = copyPlayer(p)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) DeletePlayer(_ context.Context, code, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.players[code]
	for i, p := range roster {
		if p.SessionID == sessionID {
			s.players[code] = append(roster[:i:i], roster[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListPlayers(_ context.Context, code string) ([]*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.players[code]
	out := make([]*models.Player, 0, len(roster))
	for _, p := range roster {
		out = append(out, copyPlayer(p))
	}
	return out, nil
}

func (s *MemoryStore) CreateAnswer(_ context.Context, a *models.PlayerAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey(a.PlayerSessionID, a.LobbyCode, a.QuestionIndex)
	if _, exists := s.answerKeys[key]; exists {
		return ErrConflict
	}
	s.answerKeys[key] = struct{}{}
	c := *a
	s.answers[a.LobbyCode] = append(s.answers[a.LobbyCode], &c)
	return nil
}

func (s *MemoryStore) ListAnswers(_ context.Context, code string, questionIndex int) ([]*models.PlayerAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PlayerAnswer
	for _, a := range s.answers[code] {
		if a.QuestionIndex == questionIndex {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}
