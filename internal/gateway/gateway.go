// Package gateway performs client-initiated, acknowledged operations over the
// transactional channel. Every call is independent of the streaming channel:
// failures come back as values and never touch connection state.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quizarena/syncengine/internal/protocol"
	"github.com/quizarena/syncengine/pkg/types"
)

// Local precondition failures, rejected before any network call.
var (
	ErrNotHost    = errors.New("action requires host")
	ErrWrongPhase = errors.New("action not allowed in current phase")
)

// Error is a server-side rejection (HTTP status plus server message).
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: server rejected request (%d): %s", e.Status, e.Message)
}

// SessionInfo exposes the bits of session state host-only preconditions need.
// Implemented by the session store.
type SessionInfo interface {
	IsHost() bool
	Phase() protocol.Phase
}

type RoomSummary struct {
	RoomCode    string `json:"roomCode"`
	HostName    string `json:"hostName"`
	PlayerCount int    `json:"playerCount"`
	State       int    `json:"state"`
	HasPassword bool   `json:"hasPassword"`
}

type RoomDetails struct {
	RoomCode string             `json:"roomCode"`
	HostID   string             `json:"hostId"`
	State    int                `json:"state"`
	Settings types.RoomSettings `json:"settings"`
	Players  []types.PlayerInfo `json:"players"`
}

type SubmitAnswerRequest struct {
	RoomCode     string `json:"roomCode"`
	PlayerID     string `json:"playerId"`
	Answer       string `json:"answer"`
	AnswerTimeMs int    `json:"answerTimeMs"`
}

type GameStateInfo struct {
	RoomCode      string             `json:"roomCode"`
	State         int                `json:"state"`
	RemainingTime int                `json:"remainingTime"`
	QuestionIndex int                `json:"questionIndex"`
	Question      string             `json:"question"`
	Options       []string           `json:"options"`
	Players       []types.PlayerInfo `json:"players"`
}

// Gateway is a thin client over the server's REST surface.
type Gateway struct {
	base    string
	http    *http.Client
	session SessionInfo
	log     *zap.Logger
}

// New builds a Gateway against baseURL. session supplies host/phase for local
// precondition checks; timeout bounds every individual call.
func New(baseURL string, session SessionInfo, timeout time.Duration, log *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		base:    baseURL,
		http:    &http.Client{Timeout: timeout},
		session: session,
		log:     log,
	}
}

func (g *Gateway) GetActiveRooms(ctx context.Context) ([]RoomSummary, error) {
	var rooms []RoomSummary
	if err := g.do(ctx, http.MethodGet, roomsEndpoint, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (g *Gateway) GetRoomDetails(ctx context.Context, roomCode string) (RoomDetails, error) {
	var details RoomDetails
	path := fmt.Sprintf(roomDetailsEndpoint, url.PathEscape(roomCode))
	if err := g.do(ctx, http.MethodGet, path, nil, &details); err != nil {
		return RoomDetails{}, err
	}
	return details, nil
}

func (g *Gateway) GetPlayers(ctx context.Context, roomCode string) ([]types.PlayerInfo, error) {
	var players []types.PlayerInfo
	path := playersEndpoint + "?roomCode=" + url.QueryEscape(roomCode)
	if err := g.do(ctx, http.MethodGet, path, nil, &players); err != nil {
		return nil, err
	}
	return players, nil
}

func (g *Gateway) LeaveRoom(ctx context.Context, roomCode, playerID string) error {
	path := fmt.Sprintf(leaveEndpoint, url.PathEscape(roomCode)) +
		"?playerId=" + url.QueryEscape(playerID)
	return g.do(ctx, http.MethodPost, path, nil, nil)
}

// DisbandRoom is host-only.
func (g *Gateway) DisbandRoom(ctx context.Context, roomCode string) error {
	if !g.session.IsHost() {
		return ErrNotHost
	}
	path := fmt.Sprintf(disbandEndpoint, url.PathEscape(roomCode))
	return g.do(ctx, http.MethodPost, path, nil, nil)
}

// StartGame is host-only and requires the lobby phase. The ack does not move
// the local phase; the store waits for the PhaseChanged push.
func (g *Gateway) StartGame(ctx context.Context, roomCode string) error {
	if !g.session.IsHost() {
		return ErrNotHost
	}
	if g.session.Phase() != protocol.PhaseLobby {
		return ErrWrongPhase
	}
	path := fmt.Sprintf(startEndpoint, url.PathEscape(roomCode))
	return g.do(ctx, http.MethodPost, path, nil, nil)
}

// NextQuestion is host-only and requires the answer-reveal phase.
func (g *Gateway) NextQuestion(ctx context.Context, roomCode string) error {
	if !g.session.IsHost() {
		return ErrNotHost
	}
	if g.session.Phase() != protocol.PhaseAnswerReveal {
		return ErrWrongPhase
	}
	path := nextEndpoint + "?roomCode=" + url.QueryEscape(roomCode)
	return g.do(ctx, http.MethodPost, path, nil, nil)
}

// SubmitAnswer is never retried here; the server deduplicates per player per
// question, and whether a retry is safe is the caller's call.
func (g *Gateway) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) error {
	return g.do(ctx, http.MethodPost, answerEndpoint, req, nil)
}

// GetGameState resynchronizes authoritative state, typically after a
// reconnect (push history during an outage is not replayed).
func (g *Gateway) GetGameState(ctx context.Context, roomCode, playerID string) (GameStateInfo, error) {
	var state GameStateInfo
	path := gameStateEndpoint +
		"?roomCode=" + url.QueryEscape(roomCode) +
		"&playerId=" + url.QueryEscape(playerID)
	if err := g.do(ctx, http.MethodGet, path, nil, &state); err != nil {
		return GameStateInfo{}, err
	}
	return state, nil
}

// do runs one request and decodes the response into out (when non-nil).
// Non-2xx maps to *Error with the server's message when one is present.
func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base+path, reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: readErrMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

func readErrMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return string(raw)
}
