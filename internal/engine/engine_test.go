package engine

import (
	"context"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorgames/trivia/internal/broadcast"
	"github.com/parlorgames/trivia/internal/history"
	"github.com/parlorgames/trivia/internal/models"
	"github.com/parlorgames/trivia/internal/modes"
	"github.com/parlorgames/trivia/internal/session"
	"github.com/parlorgames/trivia/internal/store"
)

// mockGateway collects room broadcasts instead of sending them over WS.
type mockGateway struct {
	mu     sync.Mutex
	msgs   map[string][]broadcast.Message
	closed []string
}

func newMockGateway() *mockGateway {
	return &mockGateway{msgs: make(map[string][]broadcast.Message)}
}

func (g *mockGateway) ToRoom(code string, msg broadcast.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.msgs[code] = append(g.msgs[code], msg)
}

func (g *mockGateway) CloseRoom(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, code)
}

func (g *mockGateway) ofType(code, typ string) []broadcast.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []broadcast.Message
	for _, m := range g.msgs[code] {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (g *mockGateway) lastOfType(code, typ string) broadcast.Message {
	msgs := g.ofType(code, typ)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (g *mockGateway) count(code string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.msgs[code])
}

func testRegistry() *modes.Registry {
	return modes.NewRegistry(map[string]modes.Mode{
		"ffa": {
			DisplayName:     "Free For All",
			TimePerQuestion: 10,
			Questions: []modes.Question{
				{Text: "first?", Answers: []string{"a", "b", "c", "d"}, Correct: 1},
				{Text: "second?", Answers: []string{"a", "b", "c", "d"}, Correct: 2},
			},
		},
	})
}

type testEnv struct {
	ctx   context.Context
	eng   *Engine
	store *store.MemoryStore
	gw    *mockGateway
	clock *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := store.NewMemoryStore()
	gw := newMockGateway()
	clock := clockwork.NewFakeClock()
	eng := New(st, session.NewDirectory(), testRegistry(), gw, history.Nop{}, clock, logger, Config{
		ModeGraceDelay: 2 * time.Second,
		RevealDelay:    5 * time.Second,
		LobbyTTL:       24 * time.Hour,
	})

	return &testEnv{ctx: context.Background(), eng: eng, store: st, gw: gw, clock: clock}
}

// waitFor polls cond; timer callbacks run off the advancing goroutine, so
// effects of clock.Advance are awaited rather than assumed synchronous.
func (env *testEnv) waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

// settle blocks until any in-flight timer callback for the lobby has finished.
// Callbacks hold the lobby lock for their whole body, including arming the
// next deadline, so taking the lock is a sufficient barrier before the next
// clock advance.
func (env *testEnv) settle(code string) {
	lock := env.eng.lobbyLock(code)
	lock.Lock()
	lock.Unlock()
}

func (env *testEnv) lobbyStatus(code string) models.LobbyStatus {
	l, err := env.store.GetLobby(env.ctx, code)
	if err != nil {
		return ""
	}
	return l.Status
}

// createLobbyWithPlayers spins up a lobby with a host and two joined players.
func (env *testEnv) createLobbyWithPlayers(t *testing.T) (code string, hostSess string) {
	t.Helper()
	res, err := env.eng.CreateLobby(env.ctx, "conn-host", "")
	require.NoError(t, err)

	_, err = env.eng.Join(env.ctx, "conn-a", res.Code, "Alex", "sess-a")
	require.NoError(t, err)
	_, err = env.eng.Join(env.ctx, "conn-b", res.Code, "Blake", "sess-b")
	require.NoError(t, err)

	return res.Code, res.SessionID
}

// startPlaying drives the lobby to its first armed question.
func (env *testEnv) startPlaying(t *testing.T) (code string, hostSess string) {
	t.Helper()
	code, hostSess = env.createLobbyWithPlayers(t)
	require.NoError(t, env.eng.StartGame(env.ctx, "conn-host", code))
	require.NoError(t, env.eng.SelectMode(env.ctx, "conn-host", code, "ffa"))

	env.clock.Advance(2 * time.Second) // mode announcement grace
	env.waitFor(t, func() bool {
		l, err := env.store.GetLobby(env.ctx, code)
		return err == nil && l.QuestionStartedAt != nil
	}, "first question should start after the grace delay")
	env.settle(code)
	return code, hostSess
}

func TestCreateLobby(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.eng.CreateLobby(env.ctx, "conn-host", "")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z]{4}$`), res.Code)
	assert.NotEmpty(t, res.SessionID)

	l, err := env.store.GetLobby(env.ctx, res.Code)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, l.Status)
	assert.Equal(t, res.SessionID, l.HostSessionID)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), l.ExpiresAt)

	b, err := env.eng.Sessions().Lookup("conn-host")
	require.NoError(t, err)
	assert.Equal(t, session.RoleHost, b.Role)
}

func TestCreateLobbyKeepsRequestedSession(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.eng.CreateLobby(env.ctx, "conn-host", "sess-mine")
	require.NoError(t, err)
	assert.Equal(t, "sess-mine", res.SessionID)
}

func TestJoinUnknownLobby(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.eng.Join(env.ctx, "conn-a", "ZZZZ", "Alex", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinCaseInsensitiveCode(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.eng.CreateLobby(env.ctx, "conn-host", "")
	require.NoError(t, err)

	joined, err := env.eng.Join(env.ctx, "conn-a", " "+strings.ToLower(res.Code)+" ", "Alex", "sess-a")
	require.NoError(t, err)
	assert.Equal(t, res.Code, joined.Code)
}

func TestJoinResolvesNameCollisions(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.eng.CreateLobby(env.ctx, "conn-host", "")
	require.NoError(t, err)

	first, err := env.eng.Join(env.ctx, "conn-1", res.Code, "Alex", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Alex", first.Name)

	second, err := env.eng.Join(env.ctx, "conn-2", res.Code, "Alex", "sess-2")
	require.NoError(t, err)
	assert.Equal(t, "Alex (2)", second.Name)

	third, err := env.eng.Join(env.ctx, "conn-3", res.Code, "Alex", "sess-3")
	require.NoError(t, err)
	assert.Equal(t, "Alex (3)", third.Name)

	roster := env.gw.lastOfType(res.Code, "players_updated")
	require.NotNil(t, roster)
	players := roster["players"].([]*models.Player)
	require.Len(t, players, 3)
}

func TestJoinReconnectIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.eng.CreateLobby(env.ctx, "conn-host", "")
	require.NoError(t, err)

	_, err = env.eng.Join(env.ctx, "conn-a", res.Code, "Alex", "sess-a")
	require.NoError(t, err)

	env.eng.HandleDisconnect(env.ctx, "conn-a")
	p, err := env.store.GetPlayer(env.ctx, res.Code, "sess-a")
	require.NoError(t, err)
	assert.False(t, p.Connected, "disconnect marks the player offline, not gone")

	// Rejoin from a new connection with a different requested name.
	again, err := env.eng.Join(env.ctx, "conn-a2", res.Code, "Somebody Else", "sess-a")
	require.NoError(t, err)
	assert.Equal(t, "Alex", again.Name, "reconnecting players cannot rename")

	players, err := env.store.ListPlayers(env.ctx, res.Code)
	require.NoError(t, err)
	require.Len(t, players, 1, "reconnect must not create a second participant")
	assert.True(t, players[0].Connected)
}

func TestJoinDetachesFromPreviousLobby(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.eng.CreateLobby(env.ctx, "conn-host-a", "")
	require.NoError(t, err)
	b, err := env.eng.CreateLobby(env.ctx, "conn-host-b", "")
	require.NoError(t, err)

	_, err = env.eng.Join(env.ctx, "conn-1", a.Code, "Alex", "sess-1")
	require.NoError(t, err)
	_, err = env.eng.Join(env.ctx, "conn-1b", b.Code, "Alex", "sess-1")
	require.NoError(t, err)

	_, err = env.store.GetPlayer(env.ctx, a.Code, "sess-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "identity lives in at most one lobby")
	_, err = env.store.GetPlayer(env.ctx, b.Code, "sess-1")
	assert.NoError(t, err)
}

func TestRejoinHost(t *testing.T) {
	env := newTestEnv(t)
	code, hostSess := env.createLobbyWithPlayers(t)

	_, err := env.eng.RejoinHost(env.ctx, "conn-host2", code, "imposter")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.eng.RejoinHost(env.ctx, "conn-host2", "ZZZZ", hostSess)
	assert.ErrorIs(t, err, ErrNotFound)

	players, err := env.eng.RejoinHost(env.ctx, "conn-host2", code, hostSess)
	require.NoError(t, err)
	assert.Len(t, players, 2)

	b, err := env.eng.Sessions().Lookup("conn-host2")
	require.NoError(t, err)
	assert.Equal(t, session.RoleHost, b.Role)
}

func TestLeaveIsHardRemoval(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.createLobbyWithPlayers(t)

	require.NoError(t, env.eng.Leave(env.ctx, "conn-a"))

	_, err := env.store.GetPlayer(env.ctx, code, "sess-a")
	assert.ErrorIs(t, err, store.ErrNotFound)

	roster := env.gw.lastOfType(code, "players_updated")
	require.NotNil(t, roster)
	assert.Len(t, roster["players"].([]*models.Player), 1)

	// The binding went with it.
	assert.ErrorIs(t, env.eng.Leave(env.ctx, "conn-a"), ErrNotFound)
}

func TestStartGameHostOnlyAndSinglePhase(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.createLobbyWithPlayers(t)

	err := env.eng.StartGame(env.ctx, "conn-a", code)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.eng.StartGame(env.ctx, "conn-host", code))
	assert.Equal(t, models.StatusModeSelection, env.lobbyStatus(code))
	assert.NotNil(t, env.gw.lastOfType(code, "mode_selection_started"))

	assert.ErrorIs(t, env.eng.StartGame(env.ctx, "conn-host", code), ErrWrongPhase)
}

func TestSelectModeValidation(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.createLobbyWithPlayers(t)

	// Mode selection is not open yet.
	assert.ErrorIs(t, env.eng.SelectMode(env.ctx, "conn-host", code, "ffa"), ErrWrongPhase)

	require.NoError(t, env.eng.StartGame(env.ctx, "conn-host", code))
	assert.ErrorIs(t, env.eng.SelectMode(env.ctx, "conn-a", code, "ffa"), ErrUnauthorized)
	assert.ErrorIs(t, env.eng.SelectMode(env.ctx, "conn-host", code, "teams_42"), ErrInvalidMode)

	require.NoError(t, env.eng.SelectMode(env.ctx, "conn-host", code, "ffa"))
	selected := env.gw.lastOfType(code, "game_mode_selected")
	require.NotNil(t, selected)
	assert.Equal(t, "ffa", selected["mode"])
	assert.Equal(t, "Free For All", selected["mode_name"])
	assert.Equal(t, models.StatusPlaying, env.lobbyStatus(code))
}

func TestAnswerBeforeFirstQuestionRejected(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.createLobbyWithPlayers(t)
	require.NoError(t, env.eng.StartGame(env.ctx, "conn-host", code))
	require.NoError(t, env.eng.SelectMode(env.ctx, "conn-host", code, "ffa"))

	// Grace delay has not elapsed: playing, but no question clock yet.
	_, err := env.eng.SubmitAnswer(env.ctx, "conn-a", 0, 1)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestRoundLifecycle(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.startPlaying(t)

	started := env.gw.lastOfType(code, "question_started")
	require.NotNil(t, started)
	assert.Equal(t, 0, started["question_index"])
	assert.Equal(t, "first?", started["question"])
	assert.Equal(t, 10, started["time_limit"])
	assert.Equal(t, 2, started["total_questions"])

	// Correct answer 2 seconds in: 1 + floor(8/10*4) = 4 points.
	env.clock.Advance(2 * time.Second)
	ack, err := env.eng.SubmitAnswer(env.ctx, "conn-a", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, ack.QuestionIndex)
	assert.Equal(t, 1, ack.AnswerIndex)

	p, err := env.store.GetPlayer(env.ctx, code, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Score)

	// Wrong answer from the second player scores nothing.
	_, err = env.eng.SubmitAnswer(env.ctx, "conn-b", 0, 3)
	require.NoError(t, err)
	p, err = env.store.GetPlayer(env.ctx, code, "sess-b")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Score)

	// Deadline fires 10s after the question started.
	env.clock.Advance(8 * time.Second)
	env.waitFor(t, func() bool {
		return env.lobbyStatus(code) == models.StatusReveal
	}, "cutoff deadline should move the lobby to reveal")
	env.settle(code)

	ended := env.gw.lastOfType(code, "question_ended")
	require.NotNil(t, ended)
	assert.Equal(t, 0, ended["question_index"])
	assert.Equal(t, 1, ended["correct_answer"])
	stats := ended["answer_stats"].([]answerOptionStats)
	require.Len(t, stats, 4)
	require.Len(t, stats[1].Players, 1)
	assert.Equal(t, "Alex", stats[1].Players[0].Name)
	assert.Equal(t, "A", stats[1].Players[0].Initial)
	assert.Equal(t, 4, stats[1].Players[0].Points)
	require.Len(t, stats[3].Players, 1)
	assert.Equal(t, 0, stats[3].Players[0].Points)

	// Scores broadcast precedes the reveal payload.
	roster := env.gw.lastOfType(code, "players_updated")
	require.NotNil(t, roster)

	// Reveal delay, then question 2.
	env.clock.Advance(5 * time.Second)
	env.waitFor(t, func() bool {
		l, err := env.store.GetLobby(env.ctx, code)
		return err == nil && l.CurrentQuestionIndex == 1 && l.Status == models.StatusPlaying && l.QuestionStartedAt != nil
	}, "reveal delay should advance to the next question")
	env.settle(code)

	started = env.gw.lastOfType(code, "question_started")
	assert.Equal(t, 1, started["question_index"])
	assert.Equal(t, "second?", started["question"])

	// Nobody answers; run out the clock and the reveal.
	env.clock.Advance(10 * time.Second)
	env.waitFor(t, func() bool {
		return env.lobbyStatus(code) == models.StatusReveal
	}, "second question should close")
	env.settle(code)
	env.clock.Advance(5 * time.Second)
	env.waitFor(t, func() bool {
		return env.lobbyStatus(code) == models.StatusResults
	}, "advancing past the last question should end the game")

	endedGame := env.gw.lastOfType(code, "game_ended")
	require.NotNil(t, endedGame)
	scores := endedGame["final_scores"].([]finalScore)
	require.Len(t, scores, 2)
	assert.Equal(t, "Alex", scores[0].Name)
	assert.Equal(t, 4, scores[0].Score)
	winner := endedGame["winner"].(finalScore)
	assert.Equal(t, "Alex", winner.Name)
}

func TestDuplicateAnswerRejected(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.startPlaying(t)

	env.clock.Advance(1 * time.Second)
	_, err := env.eng.SubmitAnswer(env.ctx, "conn-a", 0, 1)
	require.NoError(t, err)

	_, err = env.eng.SubmitAnswer(env.ctx, "conn-a", 0, 2)
	assert.ErrorIs(t, err, ErrAlreadyAnswered)

	p, err := env.store.GetPlayer(env.ctx, code, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Score, "score reflects only the first submission")
}

func TestHostCannotSubmitAnswers(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.startPlaying(t)

	_, err := env.eng.SubmitAnswer(env.ctx, "conn-host", 0, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStaleQuestionIndexRejected(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.startPlaying(t)

	_, err := env.eng.SubmitAnswer(env.ctx, "conn-a", 1, 1)
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestTieRanksByJoinOrder(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.createLobbyWithPlayers(t)

	for _, sess := range []string{"sess-a", "sess-b"} {
		p, err := env.store.GetPlayer(env.ctx, code, sess)
		require.NoError(t, err)
		p.Score = 12
		require.NoError(t, env.store.UpdatePlayer(env.ctx, p))
	}

	lobby, err := env.store.GetLobby(env.ctx, code)
	require.NoError(t, err)
	lobby.Status = models.StatusPlaying
	lobby.GameMode = "ffa"
	lobby.CurrentQuestionIndex = 2 // past the last question
	require.NoError(t, env.store.UpdateLobby(env.ctx, lobby))

	env.eng.beginQuestion(code)

	endedGame := env.gw.lastOfType(code, "game_ended")
	require.NotNil(t, endedGame)
	scores := endedGame["final_scores"].([]finalScore)
	require.Len(t, scores, 2)
	assert.Equal(t, "Alex", scores[0].Name, "stable ranking: first joined wins the tie")
	assert.Equal(t, "Blake", scores[1].Name)
	assert.Equal(t, "Alex", endedGame["winner"].(finalScore).Name)
}

func TestDisbandSilencesArmedTimer(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.startPlaying(t)

	require.NoError(t, env.eng.Disband(env.ctx, "conn-host", code))
	assert.NotNil(t, env.gw.lastOfType(code, "lobby_disbanded"))
	_, err := env.store.GetLobby(env.ctx, code)
	assert.ErrorIs(t, err, store.ErrNotFound)

	sent := env.gw.count(code)

	// The cutoff deadline is still armed; let it fire against the deleted lobby.
	env.clock.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, sent, env.gw.count(code), "stale timer must not broadcast")
	_, err = env.store.GetLobby(env.ctx, code)
	assert.ErrorIs(t, err, store.ErrNotFound, "stale timer must not mutate")
}

func TestDisbandHostOnly(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.createLobbyWithPlayers(t)

	err := env.eng.Disband(env.ctx, "conn-a", code)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, getErr := env.store.GetLobby(env.ctx, code)
	assert.NoError(t, getErr)
}

func TestReconnectInfo(t *testing.T) {
	env := newTestEnv(t)
	code, hostSess := env.createLobbyWithPlayers(t)

	info, err := env.eng.Reconnect(env.ctx, code, hostSess)
	require.NoError(t, err)
	assert.Equal(t, session.RoleHost, info.Role)
	assert.Len(t, info.Players, 2)

	info, err = env.eng.Reconnect(env.ctx, code, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, session.RolePlayer, info.Role)
	assert.Equal(t, "Alex", info.DisplayName)

	_, err = env.eng.Reconnect(env.ctx, code, "sess-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.eng.Reconnect(env.ctx, "ZZZZ", hostSess)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepRemovesExpiredLobbies(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.createLobbyWithPlayers(t)

	env.clock.Advance(25 * time.Hour)
	env.eng.Sweep(env.ctx)

	_, err := env.store.GetLobby(env.ctx, code)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = env.eng.Sessions().Lookup("conn-a")
	assert.ErrorIs(t, err, session.ErrUnbound)
}

func TestSweepLeavesLiveLobbies(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.createLobbyWithPlayers(t)

	env.clock.Advance(time.Hour)
	env.eng.Sweep(env.ctx)

	_, err := env.store.GetLobby(env.ctx, code)
	assert.NoError(t, err)
}
