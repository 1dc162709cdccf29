// Package handlers wires the engine to its transports: the WebSocket event
// surface and the small HTTP companion API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/parlorgames/trivia/internal/broadcast"
	"github.com/parlorgames/trivia/internal/engine"
)

// Subprotocol clients must speak on the game WebSocket.
const Subprotocol = "trivia"

// inboundFrame is the union of every client event's fields; Type selects
// which ones matter.
type inboundFrame struct {
	Type          string `json:"type"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	SessionID     string `json:"sessionId"`
	Mode          string `json:"mode"`
	QuestionIndex *int   `json:"question_index"`
	AnswerIndex   *int   `json:"answer_index"`
}

// WSHandler accepts game WebSocket connections and runs their read/write
// pumps. Each connection gets a fresh connection id; identity continuity
// across connections comes from the session id inside the frames, not from
// the socket.
func WSHandler(logger *logrus.Logger, eng *engine.Engine, hub *broadcast.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the trivia subprotocol")
			return
		}

		connID := uuid.NewString()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn := broadcast.NewConn(connID, cancel)

		logger.WithFields(logrus.Fields{"conn": connID, "remote": r.RemoteAddr}).Info("client connected")

		go writePump(ctx, c, conn, logger)
		readPump(ctx, c, conn, eng, hub, logger)

		// The read pump only exits when the socket is gone; tear down presence.
		logger.WithField("conn", connID).Info("client disconnected")
		eng.HandleDisconnect(context.Background(), connID)
		hub.Remove(connID)
	}
}

// readPump decodes inbound frames and dispatches them until the socket
// closes or the context is cancelled.
func readPump(ctx context.Context, c *websocket.Conn, conn *broadcast.Conn, eng *engine.Engine, hub *broadcast.Hub, logger *logrus.Logger) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus != websocket.StatusNormalClosure && closeStatus != websocket.StatusGoingAway &&
				!strings.Contains(err.Error(), "context canceled") {
				logger.WithField("conn", conn.ID).Warnf("read error: %v (close status %d)", err, closeStatus)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.WithField("conn", conn.ID).Warnf("invalid json: %v", err)
			conn.WriteError("Invalid JSON format")
			continue
		}

		handleFrame(ctx, frame, conn, eng, hub, logger)
	}
}

// handleFrame runs one client event against the engine. Direct replies go to
// the sender's queue; room broadcasts happen inside the engine.
func handleFrame(ctx context.Context, f inboundFrame, conn *broadcast.Conn, eng *engine.Engine, hub *broadcast.Hub, logger *logrus.Logger) {
	switch f.Type {
	case "create_lobby":
		res, err := eng.CreateLobby(ctx, conn.ID, f.SessionID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		hub.Join(res.Code, conn)
		conn.Write(broadcast.Message{"type": "lobby_created", "code": res.Code, "sessionId": res.SessionID})

	case "rejoin_host":
		players, err := eng.RejoinHost(ctx, conn.ID, f.Code, f.SessionID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		hub.Join(strings.ToUpper(strings.TrimSpace(f.Code)), conn)
		conn.Write(broadcast.Message{"type": "players_updated", "players": players})

	case "join_lobby":
		res, err := eng.Join(ctx, conn.ID, f.Code, f.Name, f.SessionID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		hub.Join(res.Code, conn)
		conn.Write(broadcast.Message{"type": "lobby_joined", "code": res.Code, "sessionId": res.SessionID, "name": res.Name})

	case "leave_lobby":
		if err := eng.Leave(ctx, conn.ID); err != nil {
			conn.WriteError(err.Error())
			return
		}
		hub.Remove(conn.ID)
		conn.Write(broadcast.Message{"type": "lobby_left", "success": true})

	case "disband_lobby":
		if err := eng.Disband(ctx, conn.ID, f.Code); err != nil {
			conn.WriteError(err.Error())
		}

	case "start_game":
		if err := eng.StartGame(ctx, conn.ID, f.Code); err != nil {
			conn.WriteError(err.Error())
		}

	case "select_game_mode":
		if err := eng.SelectMode(ctx, conn.ID, f.Code, f.Mode); err != nil {
			conn.WriteError(err.Error())
		}

	case "submit_answer":
		if f.QuestionIndex == nil || f.AnswerIndex == nil {
			conn.WriteError("missing question_index or answer_index")
			return
		}
		ack, err := eng.SubmitAnswer(ctx, conn.ID, *f.QuestionIndex, *f.AnswerIndex)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		conn.Write(broadcast.Message{
			"type":           "answer_submitted",
			"question_index": ack.QuestionIndex,
			"answer_index":   ack.AnswerIndex,
		})

	default:
		logger.WithField("conn", conn.ID).Warnf("unknown event type %q", f.Type)
		conn.WriteError("Unknown event type: " + f.Type)
	}
}

// writePump drains the connection's outbound queue onto the socket and keeps
// the connection alive with periodic pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *broadcast.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.WithField("conn", conn.ID).Warnf("marshal outgoing message: %v", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithField("conn", conn.ID).Warnf("write failed: %v", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithField("conn", conn.ID).Warnf("ping failed, assuming disconnect: %v", err)
				return
			}
		}
	}
}
