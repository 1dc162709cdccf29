package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/parlorgames/trivia/internal/broadcast"
	"github.com/parlorgames/trivia/internal/models"
	"github.com/parlorgames/trivia/internal/session"
	"github.com/parlorgames/trivia/internal/store"
)

// CreateResult is the direct reply to create_lobby.
type CreateResult struct {
	Code      string `json:"code"`
	SessionID string `json:"sessionId"`
}

// JoinResult is the direct reply to join_lobby. Name carries the resolved
// display name, which may differ from the requested one.
type JoinResult struct {
	Code      string `json:"code"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

// CreateLobby registers a new lobby with the caller as host and binds the
// connection in the host role. Codes are drawn at random until one is free.
func (e *Engine) CreateLobby(ctx context.Context, connID, requestedSessionID string) (*CreateResult, error) {
	sessionID := requestedSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := e.clock.Now()
	var code string
	for {
		code = randomCode()
		err := e.store.CreateLobby(ctx, &models.Lobby{
			Code:          code,
			HostSessionID: sessionID,
			Status:        models.StatusWaiting,
			CreatedAt:     now,
			ExpiresAt:     now.Add(e.cfg.LobbyTTL),
		})
		if errors.Is(err, store.ErrConflict) {
			continue // code taken, draw again
		}
		if err != nil {
			return nil, fmt.Errorf("create lobby: %w", err)
		}
		break
	}

	e.sessions.Bind(connID, sessionID, code, session.RoleHost)

	e.logger.WithFields(logrus.Fields{"lobby": code, "session": sessionID}).Info("lobby created")
	e.record(ctx, code, "lobby_created", sessionID, nil)

	return &CreateResult{Code: code, SessionID: sessionID}, nil
}

// RejoinHost rebinds a connection as the host of an existing lobby and
// returns the current roster. This is how a host recovers state after a page
// reload.
func (e *Engine) RejoinHost(ctx context.Context, connID, code, sessionID string) ([]*models.Player, error) {
	code = normalizeCode(code)
	lock := e.lobbyLock(code)
	lock.Lock()
	defer lock.Unlock()

	lobby, err := e.store.GetLobby(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lobby not found: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("rejoin host: %w", err)
	}
	if lobby.HostSessionID != sessionID {
		return nil, fmt.Errorf("not authorized as host: %w", ErrUnauthorized)
	}

	e.sessions.Bind(connID, sessionID, code, session.RoleHost)
	e.logger.WithField("lobby", code).Info("host reconnected")

	return e.playersPayload(ctx, code), nil
}

// Join adds a player to a lobby, or reconnects them if their session already
// holds a participant there. A session lives in at most one lobby; joining a
// new one detaches it from any previous lobby first. Display name collisions
// are resolved by suffixing against the current name set.
func (e *Engine) Join(ctx context.Context, connID, code, name, requestedSessionID string) (*JoinResult, error) {
	code = normalizeCode(code)
	sessionID := requestedSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if _, err := e.store.GetLobby(ctx, code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lobby not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("join lobby: %w", err)
	}

	// Detach from any previous lobby before touching the target, under the
	// previous lobby's own lock. The old room is not notified.
	// TODO: broadcasting a player-left update to the old room is an open
	// product decision; the store call here already returns everything needed.
	if old, err := e.store.FindPlayerBySession(ctx, sessionID); err == nil && old.LobbyCode != code {
		oldLock := e.lobbyLock(old.LobbyCode)
		oldLock.Lock()
		if _, err := e.store.GetPlayer(ctx, old.LobbyCode, sessionID); err == nil {
			if err := e.store.DeletePlayer(ctx, old.LobbyCode, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
				e.logger.WithField("lobby", old.LobbyCode).WithError(err).Warn("detach player from previous lobby")
			}
		}
		oldLock.Unlock()
	}

	lock := e.lobbyLock(code)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; the lobby may have disappeared in between.
	if _, err := e.store.GetLobby(ctx, code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lobby not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("join lobby: %w", err)
	}

	now := e.clock.Now()
	resolvedName := name

	player, err := e.store.GetPlayer(ctx, code, sessionID)
	switch {
	case err == nil:
		// Reconnect: keep the stored name, just refresh presence.
		player.Connected = true
		player.LastSeenAt = now
		if err := e.store.UpdatePlayer(ctx, player); err != nil {
			return nil, fmt.Errorf("reconnect player: %w", err)
		}
		resolvedName = player.DisplayName
	case errors.Is(err, store.ErrNotFound):
		resolvedName = e.resolveName(ctx, code, name)
		if err := e.store.CreatePlayer(ctx, &models.Player{
			SessionID:   sessionID,
			LobbyCode:   code,
			DisplayName: resolvedName,
			Connected:   true,
			LastSeenAt:  now,
			JoinedAt:    now,
		}); err != nil {
			return nil, fmt.Errorf("create player: %w", err)
		}
	default:
		return nil, fmt.Errorf("join lobby: %w", err)
	}

	e.sessions.Bind(connID, sessionID, code, session.RolePlayer)

	e.logger.WithFields(logrus.Fields{"lobby": code, "session": sessionID, "name": resolvedName}).Info("player joined")
	e.record(ctx, code, "player_joined", sessionID, map[string]interface{}{"name": resolvedName})

	e.broadcastRoster(ctx, code)

	return &JoinResult{Code: code, SessionID: sessionID, Name: resolvedName}, nil
}

// resolveName suffixes " (2)", " (3)", ... until the name is free in the
// lobby's current roster. Computed against the live name set, never reserved.
func (e *Engine) resolveName(ctx context.Context, code, name string) string {
	taken := make(map[string]bool)
	for _, p := range e.playersPayload(ctx, code) {
		taken[p.DisplayName] = true
	}
	resolved := name
	for counter := 2; taken[resolved]; counter++ {
		resolved = fmt.Sprintf("%s (%d)", name, counter)
	}
	return resolved
}

// Leave removes the caller's participant record outright and drops the
// binding. Unlike a disconnect, leaving is a hard removal.
func (e *Engine) Leave(ctx context.Context, connID string) error {
	binding, err := e.sessions.Lookup(connID)
	if err != nil {
		return fmt.Errorf("session not found: %w", ErrNotFound)
	}

	code := binding.LobbyCode
	if code != "" {
		lock := e.lobbyLock(code)
		lock.Lock()
		if err := e.store.DeletePlayer(ctx, code, binding.SessionID); err == nil {
			e.logger.WithFields(logrus.Fields{"lobby": code, "session": binding.SessionID}).Info("player left")
			e.record(ctx, code, "player_left", binding.SessionID, nil)
			e.broadcastRoster(ctx, code)
		}
		lock.Unlock()
	}

	e.sessions.Unbind(connID)
	return nil
}

// Disband deletes a lobby and everything it owns after notifying the room.
// Host only. Outstanding timers are not cancelled; they find the lobby gone
// and no-op.
func (e *Engine) Disband(ctx context.Context, connID, code string) error {
	code = normalizeCode(code)
	lock := e.lobbyLock(code)
	lock.Lock()
	defer lock.Unlock()

	lobby, err := e.store.GetLobby(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lobby not found: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("disband lobby: %w", err)
	}
	if err := e.requireHost(connID, lobby); err != nil {
		return fmt.Errorf("only the host can disband the lobby: %w", err)
	}

	e.gateway.ToRoom(code, broadcast.Message{
		"type":    "lobby_disbanded",
		"message": "Host disbanded the lobby",
	})

	if err := e.store.DeleteLobby(ctx, code); err != nil {
		return fmt.Errorf("disband lobby: %w", err)
	}
	e.sessions.UnbindLobby(code)
	e.gateway.CloseRoom(code)

	e.logger.WithField("lobby", code).Info("lobby disbanded")
	e.record(ctx, code, "lobby_disbanded", lobby.HostSessionID, nil)
	return nil
}

// StartGame moves a waiting lobby into mode selection. Host only.
func (e *Engine) StartGame(ctx context.Context, connID, code string) error {
	code = normalizeCode(code)
	lock := e.lobbyLock(code)
	lock.Lock()
	defer lock.Unlock()

	lobby, err := e.store.GetLobby(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lobby not found: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("start game: %w", err)
	}
	if err := e.requireHost(connID, lobby); err != nil {
		return fmt.Errorf("only the host can start the game: %w", err)
	}
	if lobby.Status != models.StatusWaiting {
		return fmt.Errorf("game already started: %w", ErrWrongPhase)
	}

	lobby.Status = models.StatusModeSelection
	if err := e.store.UpdateLobby(ctx, lobby); err != nil {
		return fmt.Errorf("start game: %w", err)
	}

	e.gateway.ToRoom(code, broadcast.Message{"type": "mode_selection_started"})
	e.logger.WithField("lobby", code).Info("entering mode selection")
	return nil
}

// SelectMode fixes the lobby's game mode, moves it into play, and arms the
// first question after the configured grace delay. Host only; the mode is
// immutable for the rest of the lobby's life.
func (e *Engine) SelectMode(ctx context.Context, connID, code, modeKey string) error {
	code = normalizeCode(code)
	lock := e.lobbyLock(code)
	lock.Lock()
	defer lock.Unlock()

	lobby, err := e.store.GetLobby(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lobby not found: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("select mode: %w", err)
	}
	if err := e.requireHost(connID, lobby); err != nil {
		return fmt.Errorf("only the host can select the game mode: %w", err)
	}
	if lobby.Status != models.StatusModeSelection {
		return fmt.Errorf("mode selection is not open: %w", ErrWrongPhase)
	}
	mode, ok := e.modes.Get(modeKey)
	if !ok {
		return fmt.Errorf("unknown game mode %q: %w", modeKey, ErrInvalidMode)
	}

	lobby.GameMode = modeKey
	lobby.Status = models.StatusPlaying
	lobby.CurrentQuestionIndex = 0
	if err := e.store.UpdateLobby(ctx, lobby); err != nil {
		return fmt.Errorf("select mode: %w", err)
	}

	e.gateway.ToRoom(code, broadcast.Message{
		"type":      "game_mode_selected",
		"mode":      modeKey,
		"mode_name": mode.DisplayName,
	})
	e.logger.WithFields(logrus.Fields{"lobby": code, "mode": modeKey}).Info("game mode selected")
	e.record(ctx, code, "game_mode_selected", lobby.HostSessionID, map[string]interface{}{"mode": modeKey})

	e.clock.AfterFunc(e.cfg.ModeGraceDelay, func() {
		e.beginQuestion(code)
	})
	return nil
}

// HandleDisconnect marks a player disconnected and drops the binding. The
// participant record and its score survive; only an explicit leave deletes it.
func (e *Engine) HandleDisconnect(ctx context.Context, connID string) {
	binding, err := e.sessions.Lookup(connID)
	if err != nil {
		return
	}

	if binding.Role == session.RolePlayer && binding.LobbyCode != "" {
		code := binding.LobbyCode
		lock := e.lobbyLock(code)
		lock.Lock()
		if player, err := e.store.GetPlayer(ctx, code, binding.SessionID); err == nil {
			player.Connected = false
			player.LastSeenAt = e.clock.Now()
			if err := e.store.UpdatePlayer(ctx, player); err != nil {
				e.logger.WithField("lobby", code).WithError(err).Warn("mark player disconnected")
			}
			e.broadcastRoster(ctx, code)
		}
		lock.Unlock()
	}

	e.sessions.Unbind(connID)
}

// requireHost checks that the connection's binding matches the lobby's stored
// host identity. The binding's role is authoritative for the check.
func (e *Engine) requireHost(connID string, lobby *models.Lobby) error {
	binding, err := e.sessions.Lookup(connID)
	if err != nil || binding.Role != session.RoleHost || binding.SessionID != lobby.HostSessionID {
		return ErrUnauthorized
	}
	return nil
}

// ReconnectInfo is the reply to the reconnect HTTP endpoint; it carries
// enough to re-establish UI state after a full page reload.
type ReconnectInfo struct {
	Role        session.Role       `json:"role"`
	LobbyCode   string             `json:"lobbyCode"`
	DisplayName string             `json:"displayName,omitempty"`
	Status      models.LobbyStatus `json:"status"`
	Players     []*models.Player   `json:"players"`
}

// Reconnect resolves a (code, session) pair to its role and current roster.
func (e *Engine) Reconnect(ctx context.Context, code, sessionID string) (*ReconnectInfo, error) {
	code = normalizeCode(code)

	lobby, err := e.store.GetLobby(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lobby not found: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reconnect: %w", err)
	}

	info := &ReconnectInfo{
		LobbyCode: code,
		Status:    lobby.Status,
		Players:   e.playersPayload(ctx, code),
	}
	if lobby.HostSessionID == sessionID {
		info.Role = session.RoleHost
		return info, nil
	}
	player, err := e.store.GetPlayer(ctx, code, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found in this lobby: %w", ErrNotFound)
	}
	info.Role = session.RolePlayer
	info.DisplayName = player.DisplayName
	return info, nil
}
