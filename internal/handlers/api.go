package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/parlorgames/trivia/internal/engine"
)

// reconnectRequest is the body of POST /api/reconnect.
type reconnectRequest struct {
	SessionID string `json:"sessionId"`
	LobbyCode string `json:"lobbyCode"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ReconnectHandler resolves a (lobby code, session id) pair back to its role
// and roster so a client can re-establish UI state after a full page reload
// without replaying the socket handshake.
func ReconnectHandler(logger *logrus.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"success": false, "message": "POST required"})
			return
		}

		var req reconnectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.LobbyCode == "" {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "Missing sessionId or lobbyCode"})
			return
		}

		info, err := eng.Reconnect(r.Context(), req.LobbyCode, req.SessionID)
		if err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "message": err.Error()})
				return
			}
			logger.WithError(err).Warn("reconnect lookup failed")
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "internal error"})
			return
		}

		resp := map[string]interface{}{
			"success":   true,
			"role":      info.Role,
			"lobbyCode": info.LobbyCode,
			"status":    info.Status,
			"players":   info.Players,
		}
		if info.DisplayName != "" {
			resp["displayName"] = info.DisplayName
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ThemeHandler reports the UI theme configured for this deployment.
func ThemeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		theme := os.Getenv("THEME")
		if theme == "" {
			theme = "standard"
		}
		writeJSON(w, http.StatusOK, map[string]string{"theme": theme})
	}
}
