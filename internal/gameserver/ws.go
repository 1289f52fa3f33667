package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quizarena/syncengine/pkg/types"
)

var errClientDropped = errors.New("client outbox closed")

// clientMessage is the superset of the streaming commands a client may send.
type clientMessage struct {
	Type           string             `json:"type"`
	RoomCode       string             `json:"roomCode,omitempty"`
	Name           string             `json:"name,omitempty"`
	AvatarID       int                `json:"avatarId,omitempty"`
	HashedPassword string             `json:"hashedPassword,omitempty"`
	Password       string             `json:"password,omitempty"`
	Settings       types.RoomSettings `json:"settings,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	out := make(chan types.ServerMessage, 16)
	var room *Room
	var playerID string

	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-out:
				if !ok {
					return errClientDropped
				}
				payload, _ := json.Marshal(msg)
				wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				err := conn.Write(wctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return err
			}

			var cm clientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				s.sendError(ctx, conn, "bad json")
				continue
			}

			switch cm.Type {
			case "createRoom":
				created, hostID := s.createRoom(cm.Name, cm.HashedPassword, cm.AvatarID, cm.Settings)
				created.mu.Lock()
				created.clients[hostID] = out
				created.mu.Unlock()
				room, playerID = created, hostID
				out <- types.ServerMessage{Type: "roomCreated", RoomCode: created.code, PlayerID: hostID}
				s.log.Info("room created", zap.String("code", created.code))

			case "joinRoom":
				target := s.getRoom(cm.RoomCode)
				if target == nil {
					s.sendError(ctx, conn, "room not found")
					continue
				}
				target.mu.Lock()
				digest := target.passwordDigest
				target.mu.Unlock()
				if digest != "" && digest != cm.Password {
					s.sendError(ctx, conn, "wrong password")
					continue
				}
				id := uuid.NewString()
				target.addPlayer(types.PlayerInfo{ID: id, Name: cm.Name, AvatarID: cm.AvatarID}, out)
				room, playerID = target, id
				out <- types.ServerMessage{Type: "roomJoined", RoomCode: target.code, PlayerID: id}
				target.broadcast(types.ServerMessage{
					Type: "playerJoined", PlayerID: id, PlayerName: cm.Name, AvatarID: cm.AvatarID,
				})

			default:
				s.sendError(ctx, conn, "unknown type")
			}
		}
	})

	_ = g.Wait()

	if room != nil && playerID != "" {
		room.detachClient(playerID, out)
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: "error", Message: msg})
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	_ = conn.Write(wctx, websocket.MessageText, payload)
	cancel()
}

// detachClient unregisters a connection without touching the roster, so a
// dropped transport does not look like the player leaving.
func (r *Room) detachClient(playerID string, ch chan types.ServerMessage) {
	r.mu.Lock()
	if current, ok := r.clients[playerID]; ok && current == ch {
		delete(r.clients, playerID)
	}
	r.mu.Unlock()
}
