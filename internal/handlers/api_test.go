package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorgames/trivia/internal/broadcast"
	"github.com/parlorgames/trivia/internal/engine"
	"github.com/parlorgames/trivia/internal/history"
	"github.com/parlorgames/trivia/internal/modes"
	"github.com/parlorgames/trivia/internal/session"
	"github.com/parlorgames/trivia/internal/store"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return engine.New(
		store.NewMemoryStore(),
		session.NewDirectory(),
		modes.Default(),
		broadcast.NewHub(),
		history.Nop{},
		clockwork.NewFakeClock(),
		logger,
		engine.Config{},
	)
}

func postReconnect(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/reconnect", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestReconnectHandler(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	eng := testEngine(t)

	ctx := context.Background()
	created, err := eng.CreateLobby(ctx, "conn-host", "")
	require.NoError(t, err)
	joined, err := eng.Join(ctx, "conn-a", created.Code, "Alex", "sess-a")
	require.NoError(t, err)

	h := ReconnectHandler(logger, eng)

	t.Run("host", func(t *testing.T) {
		rec := postReconnect(t, h, `{"sessionId":"`+created.SessionID+`","lobbyCode":"`+created.Code+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, "host", resp["role"])
		assert.Equal(t, created.Code, resp["lobbyCode"])
		assert.NotContains(t, resp, "displayName")
	})

	t.Run("player", func(t *testing.T) {
		rec := postReconnect(t, h, `{"sessionId":"sess-a","lobbyCode":"`+created.Code+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "player", resp["role"])
		assert.Equal(t, joined.Name, resp["displayName"])
	})

	t.Run("unknown lobby", func(t *testing.T) {
		rec := postReconnect(t, h, `{"sessionId":"sess-a","lobbyCode":"ZZZZ"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := postReconnect(t, h, `{"sessionId":"sess-nope","lobbyCode":"`+created.Code+`"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := postReconnect(t, h, `{"sessionId":"sess-a"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := postReconnect(t, h, `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/reconnect", nil)
		rec := httptest.NewRecorder()
		h(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestThemeHandler(t *testing.T) {
	h := ThemeHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/theme", nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "standard", resp["theme"])

	t.Setenv("THEME", "midnight")
	rec = httptest.NewRecorder()
	h(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "midnight", resp["theme"])
}
