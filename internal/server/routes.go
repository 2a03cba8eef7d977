package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler)

	mux.HandleFunc("/websocket", s.websocketHandler)

	// Wrap the mux with CORS middleware
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(map[string]interface{}{
		"status":          "ok",
		"activeSessions":  s.registry.SessionCount(),
		"openConnections": s.connectionManager.ConnectionCount(),
	})
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: restrict to s.corsOrigin once the web client's prod domain is final
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	log.Printf("New connection: %s", connectionID)
	s.connectionManager.AddConnection(connectionID, socket)
	defer func() {
		s.connectionManager.RemoveConnection(connectionID)
		s.handleDisconnect(connectionID)
		log.Printf("Connection closed: %s", connectionID)
	}()

	for {
		msgType, data, err := socket.Read(ctx)

		if err != nil {
			log.Printf("Connection %s read error: %v", connectionID, err)
			return
		}

		if msgType != websocket.MessageText {
			log.Printf("Non-text input from %s", connectionID)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Invalid JSON from %s: %v", connectionID, err)
			s.sendError(connectionID, "Invalid JSON")
			continue
		}

		// Route the message
		switch msg.Type {
		case "ping":
			s.dispatcher.ToParticipant(connectionID, "pong", struct{}{})

		case "request_session":
			s.handleRequestSession(connectionID, msg.Payload)

		case "player_movement":
			s.handlePlayerMovement(connectionID, msg.Payload)

		case "update_score":
			s.handleUpdateScore(connectionID, msg.Payload)

		case "admin_end_quiz":
			s.handleAdminEndQuiz(ctx, connectionID, msg.Payload)

		default:
			log.Printf("Unknown message type '%s' from %s", msg.Type, connectionID)
			s.sendError(connectionID, fmt.Sprintf("Unknown message type: %s", msg.Type))
		}
	}
}

func (s *Server) sendError(connID string, msg string) {
	s.dispatcher.ToParticipant(connID, "error", ErrorMessage{Message: msg})
}

// handleRequestSession finds or creates the session for a logical game id and
// seats the caller in it. Creating, joining, and rejoining during the grace
// window all arrive through this one message.
func (s *Server) handleRequestSession(connectionID string, payload json.RawMessage) {
	var req RequestSessionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(connectionID, "INVALID_PAYLOAD: Invalid request_session payload")
		return
	}

	if req.GameID == "" {
		s.sendError(connectionID, "INVALID_PAYLOAD: gameId is required")
		return
	}

	var claim *AdminClaim
	if req.PlayerInfo.Role == "admin" && req.AdminToken != "" {
		claim = &AdminClaim{Token: req.AdminToken, ConnID: connectionID}
	}

	r := s.registry
	r.mu.Lock()

	// One connection, one room. A second request_session from a seated
	// connection is a client bug, not a room switch.
	if _, seated := r.findByConnLocked(connectionID); seated {
		r.mu.Unlock()
		s.sendError(connectionID, "ALREADY_IN_ROOM: Connection is already in a session")
		return
	}

	sess, created := r.findOrCreateLocked(req.GameID, claim)
	state := sess.addParticipant(connectionID, PlayerState{
		Username:  req.PlayerInfo.Username,
		Character: req.PlayerInfo.Character,
		X:         req.PlayerInfo.X,
		Y:         req.PlayerInfo.Y,
		UserID:    req.PlayerInfo.UserID,
	})

	roster := sess.snapshotRoster()
	s.dispatcher.ToParticipant(connectionID, "session_created", SessionCreatedResponse{
		RoomCode:     sess.RoomCode,
		ConnectionID: connectionID,
		Players:      roster,
	})
	s.dispatcher.ToRoomExceptSender(sess, connectionID, "new_player", RosterEntry{
		ID:          connectionID,
		PlayerState: *state,
	})
	s.dispatcher.ToRoom(sess, "leaderboard_update", LeaderboardUpdate{Players: roster})

	roomCode := sess.RoomCode
	r.mu.Unlock()

	if created {
		log.Printf("Created session: game %s, room %s (by %s)", req.GameID, roomCode, connectionID)
	} else {
		log.Printf("Joined session: game %s, room %s (%s)", req.GameID, roomCode, connectionID)
	}
}

func (s *Server) handlePlayerMovement(connectionID string, payload json.RawMessage) {
	var req MovementPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(connectionID, "INVALID_PAYLOAD: Invalid player_movement payload")
		return
	}

	r := s.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.findByCodeLocked(req.RoomCode)
	if !exists {
		s.sendError(connectionID, "ROOM_NOT_FOUND: Room not found")
		return
	}
	if !sess.hasParticipant(connectionID) {
		s.sendError(connectionID, "NOT_IN_ROOM: Connection is not a participant of this room")
		return
	}

	sess.updatePosition(connectionID, req.X, req.Y)
	s.dispatcher.ToRoomExceptSender(sess, connectionID, "player_moved", PlayerMovedNotification{
		ID: connectionID,
		X:  req.X,
		Y:  req.Y,
	})
}

func (s *Server) handleUpdateScore(connectionID string, payload json.RawMessage) {
	var req ScorePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(connectionID, "INVALID_PAYLOAD: Invalid update_score payload")
		return
	}

	r := s.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.findByCodeLocked(req.RoomCode)
	if !exists {
		s.sendError(connectionID, "ROOM_NOT_FOUND: Room not found")
		return
	}
	if !sess.hasParticipant(connectionID) {
		s.sendError(connectionID, "NOT_IN_ROOM: Connection is not a participant of this room")
		return
	}

	sess.updateScore(connectionID, req.Score)
	s.dispatcher.ToRoom(sess, "leaderboard_update", LeaderboardUpdate{Players: sess.snapshotRoster()})
}

// handleAdminEndQuiz runs on the caller's read goroutine. The sink round-trip
// inside Finalize can take seconds, but it only stalls this connection's
// reads; every other connection has its own goroutine and the registry lock
// is not held across the call.
func (s *Server) handleAdminEndQuiz(ctx context.Context, connectionID string, payload json.RawMessage) {
	var req EndQuizPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(connectionID, "INVALID_PAYLOAD: Invalid admin_end_quiz payload")
		return
	}

	s.finalizer.Finalize(ctx, req.RoomCode, req.Token, connectionID)
}

// handleDisconnect reconciles the presence table after a socket goes away.
// If the room drains, the grace timer starts ticking instead of tearing the
// room down immediately; a reload or network blip should not cost the room.
func (s *Server) handleDisconnect(connectionID string) {
	r := s.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.findByConnLocked(connectionID)
	if !exists {
		return
	}

	state, removed := sess.removeParticipant(connectionID)
	if !removed {
		return
	}

	log.Printf("Player %s (%s) left room %s", connectionID, state.Username, sess.RoomCode)

	if sess.participantCount() == 0 {
		r.armEvictionLocked(sess)
		return
	}

	s.dispatcher.ToRoom(sess, "player_disconnected", PlayerDisconnectedNotification{ID: connectionID})
}
