// Package gameserver is an in-process game server speaking the engine's wire
// protocol. Integration tests run the engine against it; quizcli can too, so
// the demo works without a real backend.
package gameserver

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quizarena/syncengine/internal/gateway"
	"github.com/quizarena/syncengine/pkg/types"
)

// Phase ordinals on the wire.
const (
	stateLobby = iota
	stateCountdown
	stateQuestion
	stateAnswerReveal
	stateFinal
)

// Room is one live game room.
type Room struct {
	mu             sync.Mutex
	code           string
	hostID         string
	hostName       string
	passwordDigest string
	settings       types.RoomSettings
	state          int
	remainingTime  int
	questionIndex  int
	players        []types.PlayerInfo
	clients        map[string]chan types.ServerMessage
}

// Server holds the room table and the HTTP surface.
type Server struct {
	log *zap.Logger

	// ManualPhase suppresses the automatic phaseChanged broadcast on
	// start/next so tests control exactly when the push arrives.
	ManualPhase bool

	mu    sync.Mutex
	rooms map[string]*Room
}

func New(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Handler builds the chi router: the transactional endpoints plus /ws.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/rooms", s.handleListRooms)
	r.Get("/api/rooms/players", s.handleGetPlayers)
	r.Get("/api/rooms/{code}", s.handleRoomDetails)
	r.Post("/api/rooms/{code}/leave", s.handleLeave)
	r.Post("/api/rooms/{code}/disband", s.handleDisband)
	r.Post("/api/rooms/{code}/start", s.handleStart)
	r.Post("/api/game/next", s.handleNextQuestion)
	r.Post("/api/game/answer", s.handleSubmitAnswer)
	r.Get("/api/game/state", s.handleGameState)
	r.Get("/ws", s.handleWS)
	return r
}

// Push injects an arbitrary event into a room's streaming channel. Tests use
// it to script server-driven scenarios.
func (s *Server) Push(roomCode string, msg types.ServerMessage) bool {
	room := s.getRoom(roomCode)
	if room == nil {
		return false
	}
	room.broadcast(msg)
	return true
}

// PushTo delivers an event to a single player's connection.
func (s *Server) PushTo(roomCode, playerID string, msg types.ServerMessage) bool {
	room := s.getRoom(roomCode)
	if room == nil {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	ch, ok := room.clients[playerID]
	if !ok {
		return false
	}
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// CloseClients drops every streaming connection in a room without touching
// the room itself. Tests use it to simulate a transport outage.
func (s *Server) CloseClients(roomCode string) {
	room := s.getRoom(roomCode)
	if room == nil {
		return
	}
	room.mu.Lock()
	for id, ch := range room.clients {
		close(ch)
		delete(room.clients, id)
	}
	room.mu.Unlock()
}

func (s *Server) getRoom(code string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[code]
}

func (s *Server) createRoom(hostName, digest string, avatarID int, settings types.RoomSettings) (*Room, string) {
	hostID := uuid.NewString()
	room := &Room{
		hostID:         hostID,
		hostName:       hostName,
		passwordDigest: digest,
		settings:       settings,
		state:          stateLobby,
		players: []types.PlayerInfo{
			{ID: hostID, Name: hostName, AvatarID: avatarID},
		},
		clients: make(map[string]chan types.ServerMessage),
	}

	s.mu.Lock()
	for {
		code, err := generateCode()
		if err != nil {
			continue
		}
		if _, taken := s.rooms[code]; taken {
			continue
		}
		room.code = code
		s.rooms[code] = room
		break
	}
	s.mu.Unlock()
	return room, hostID
}

// generateCode produces a 6-character room code.
func generateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func (r *Room) broadcast(msg types.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg)
}

func (r *Room) broadcastLocked(msg types.ServerMessage) {
	for id, ch := range r.clients {
		select {
		case ch <- msg:
		default:
			// Slow client: drop the connection, the roster entry stays.
			close(ch)
			delete(r.clients, id)
		}
	}
}

func (r *Room) addPlayer(p types.PlayerInfo, ch chan types.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.players {
		if existing.ID == p.ID {
			r.clients[p.ID] = ch
			return
		}
	}
	r.players = append(r.players, p)
	r.clients[p.ID] = ch
}

func (r *Room) removePlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.players {
		if p.ID == playerID {
			r.players = append(r.players[:i], r.players[i+1:]...)
			if ch, ok := r.clients[playerID]; ok {
				close(ch)
				delete(r.clients, playerID)
			}
			return true
		}
	}
	return false
}

func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	rooms := make([]gateway.RoomSummary, 0, len(s.rooms))
	for _, room := range s.rooms {
		room.mu.Lock()
		rooms = append(rooms, gateway.RoomSummary{
			RoomCode:    room.code,
			HostName:    room.hostName,
			PlayerCount: len(room.players),
			State:       room.state,
			HasPassword: room.passwordDigest != "",
		})
		room.mu.Unlock()
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleRoomDetails(w http.ResponseWriter, r *http.Request) {
	room := s.getRoom(chi.URLParam(r, "code"))
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	room.mu.Lock()
	details := gateway.RoomDetails{
		RoomCode: room.code,
		HostID:   room.hostID,
		State:    room.state,
		Settings: room.settings,
		Players:  append([]types.PlayerInfo(nil), room.players...),
	}
	room.mu.Unlock()
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleGetPlayers(w http.ResponseWriter, r *http.Request) {
	room := s.getRoom(r.URL.Query().Get("roomCode"))
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	room.mu.Lock()
	players := append([]types.PlayerInfo(nil), room.players...)
	room.mu.Unlock()
	writeJSON(w, http.StatusOK, players)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	room := s.getRoom(chi.URLParam(r, "code"))
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	playerID := r.URL.Query().Get("playerId")
	if !room.removePlayer(playerID) {
		writeError(w, http.StatusNotFound, "player not in room")
		return
	}
	room.broadcast(types.ServerMessage{Type: "playerLeft", PlayerID: playerID})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDisband(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	room := s.getRoom(code)
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	room.broadcast(types.ServerMessage{Type: "roomDisbanded", RoomCode: code})
	s.mu.Lock()
	delete(s.rooms, code)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	room := s.getRoom(chi.URLParam(r, "code"))
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	room.mu.Lock()
	if room.state != stateLobby {
		room.mu.Unlock()
		writeError(w, http.StatusConflict, "game already started")
		return
	}
	room.state = stateCountdown
	room.remainingTime = 3
	if !s.ManualPhase {
		room.broadcastLocked(types.ServerMessage{Type: "phaseChanged", State: stateCountdown, RemainingTime: 3})
	}
	room.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	room := s.getRoom(r.URL.Query().Get("roomCode"))
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	room.mu.Lock()
	if room.state != stateAnswerReveal {
		room.mu.Unlock()
		writeError(w, http.StatusConflict, "not in answer reveal")
		return
	}
	room.state = stateCountdown
	room.questionIndex++
	if !s.ManualPhase {
		room.broadcastLocked(types.ServerMessage{Type: "phaseChanged", State: stateCountdown, RemainingTime: 3})
	}
	room.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req gateway.SubmitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	room := s.getRoom(req.RoomCode)
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	// The harness scores nothing; tests push the answerResult they want.
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGameState(w http.ResponseWriter, r *http.Request) {
	room := s.getRoom(r.URL.Query().Get("roomCode"))
	if room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	room.mu.Lock()
	state := gateway.GameStateInfo{
		RoomCode:      room.code,
		State:         room.state,
		RemainingTime: room.remainingTime,
		QuestionIndex: room.questionIndex,
		Players:       append([]types.PlayerInfo(nil), room.players...),
	}
	room.mu.Unlock()
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
