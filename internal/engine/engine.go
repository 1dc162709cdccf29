// Package engine orchestrates lobby lifecycles and timed question rounds.
//
// Every mutation of a lobby happens under that lobby's mutex: request
// handlers, deadline callbacks, and the expiry sweeper all serialize through
// the same lock, so state transitions within one lobby are linearizable.
// Deadline callbacks re-read the lobby before touching anything; a callback
// that finds the lobby gone or past its expected phase returns silently.
package engine

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/parlorgames/trivia/internal/broadcast"
	"github.com/parlorgames/trivia/internal/history"
	"github.com/parlorgames/trivia/internal/models"
	"github.com/parlorgames/trivia/internal/modes"
	"github.com/parlorgames/trivia/internal/session"
	"github.com/parlorgames/trivia/internal/store"
)

// Config carries the engine's pacing knobs.
type Config struct {
	// ModeGraceDelay is the pause between mode selection and the first
	// question, giving clients time to finish the announcement transition.
	ModeGraceDelay time.Duration
	// RevealDelay is how long the reveal screen stays up between questions.
	RevealDelay time.Duration
	// LobbyTTL is how long a lobby lives after creation.
	LobbyTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.ModeGraceDelay <= 0 {
		c.ModeGraceDelay = 2 * time.Second
	}
	if c.RevealDelay <= 0 {
		c.RevealDelay = 5 * time.Second
	}
	if c.LobbyTTL <= 0 {
		c.LobbyTTL = 24 * time.Hour
	}
	return c
}

// Engine is the lobby lifecycle controller and question round scheduler.
type Engine struct {
	store    store.Store
	sessions *session.Directory
	modes    *modes.Registry
	gateway  broadcast.Gateway
	history  history.Recorder
	clock    clockwork.Clock
	logger   *logrus.Logger
	cfg      Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires an Engine. All collaborators are required; pass history.Nop{} and
// clockwork.NewRealClock() when nothing fancier is needed.
func New(st store.Store, sessions *session.Directory, registry *modes.Registry, gateway broadcast.Gateway, recorder history.Recorder, clock clockwork.Clock, logger *logrus.Logger, cfg Config) *Engine {
	return &Engine{
		store:    st,
		sessions: sessions,
		modes:    registry,
		gateway:  gateway,
		history:  recorder,
		clock:    clock,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Sessions exposes the session directory for the transport layer.
func (e *Engine) Sessions() *session.Directory {
	return e.sessions
}

// lobbyLock returns the mutex serializing all work on one lobby code. Locks
// are never removed; the 4-letter code space bounds the map.
func (e *Engine) lobbyLock(code string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[code]
	if !ok {
		l = &sync.Mutex{}
		e.locks[code] = l
	}
	return l
}

// normalizeCode uppercases a human-typed lobby code.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

const codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomCode() string {
	var b [4]byte
	for i := range b {
		b[i] = codeLetters[rand.IntN(len(codeLetters))]
	}
	return string(b[:])
}

// playersPayload reads the current roster in join order.
func (e *Engine) playersPayload(ctx context.Context, code string) []*models.Player {
	players, err := e.store.ListPlayers(ctx, code)
	if err != nil {
		e.logger.WithField("lobby", code).WithError(err).Warn("list players")
		return nil
	}
	return players
}

// broadcastRoster pushes the refreshed player list to the whole room.
func (e *Engine) broadcastRoster(ctx context.Context, code string) {
	e.gateway.ToRoom(code, broadcast.Message{
		"type":    "players_updated",
		"players": e.playersPayload(ctx, code),
	})
}

func (e *Engine) record(ctx context.Context, code, event, actor string, payload map[string]interface{}) {
	e.history.Record(ctx, history.Record{
		LobbyCode:      code,
		EventType:      event,
		ActorSessionID: actor,
		Payload:        payload,
		Timestamp:      e.clock.Now().Unix(),
	})
}
