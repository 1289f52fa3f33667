// Package engine wires transport, codec, bus, gateway, and store into one
// explicitly owned sync engine instance. No ambient globals: the caller
// constructs it, connects it, and disposes of it.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/quizarena/syncengine/internal/bus"
	"github.com/quizarena/syncengine/internal/config"
	"github.com/quizarena/syncengine/internal/gateway"
	"github.com/quizarena/syncengine/internal/protocol"
	"github.com/quizarena/syncengine/internal/session"
	"github.com/quizarena/syncengine/internal/transport"
	"github.com/quizarena/syncengine/pkg/types"
)

// ErrNotConnected is returned when a streaming command is issued with no
// open connection. Gateway calls are unaffected; they have their own channel.
var ErrNotConnected = errors.New("engine: not connected")

const storeSubscriber = "session-store"

// Engine is one live client of a game server.
type Engine struct {
	id    uuid.UUID
	cfg   config.Config
	log   *zap.Logger
	clock clockwork.Clock

	ch    *transport.Channel
	sup   *transport.Supervisor
	bus   *bus.Bus
	store *session.Store
	gw    *gateway.Gateway
}

// New builds a fully wired engine. The returned engine is idle until Connect.
func New(cfg config.Config, log *zap.Logger) *Engine {
	return newEngine(cfg, log, clockwork.NewRealClock())
}

func newEngine(cfg config.Config, log *zap.Logger, clock clockwork.Clock) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		id:    uuid.New(),
		cfg:   cfg,
		log:   log,
		clock: clock,
	}

	e.bus = bus.New(log.Named("bus"))
	e.store = session.NewStore(log.Named("store"))
	e.gw = gateway.New(cfg.APIBaseURL, e.store, cfg.RequestTimeout, log.Named("gateway"))

	e.ch = transport.NewChannel(transport.Callbacks{
		OnOpen:    e.onOpen,
		OnMessage: e.onMessage,
		OnClosed:  e.onClosed,
		OnFailure: e.onFailure,
	}, transport.Options{
		PingInterval: cfg.PingInterval,
		ReadTimeout:  cfg.ReadTimeout,
		DialTimeout:  cfg.DialTimeout,
		Clock:        clock,
		Logger:       log.Named("transport"),
	})
	e.sup = transport.NewSupervisor(e.ch, cfg.ReconnectBaseDelay, cfg.MaxReconnectAttempts,
		clock, log.Named("reconnect"))

	// The store consumes the bus like any other subscriber; decode order is
	// delivery order, so snapshots apply events exactly as they arrived.
	events := e.bus.Subscribe(storeSubscriber)
	go func() {
		for ev := range events {
			e.store.Apply(ev)
		}
	}()

	return e
}

// ID identifies this engine instance (request correlation, logs).
func (e *Engine) ID() uuid.UUID { return e.id }

// Connect opens the streaming channel and arms automatic reconnection.
// Idempotent while a connection is pending or open.
func (e *Engine) Connect(ctx context.Context) error {
	e.sup.Track(e.cfg.WSEndpoint)
	return e.ch.Connect(ctx, e.cfg.WSEndpoint)
}

// Disconnect tears the connection down and clears the session. Any pending
// reconnection attempt is cancelled before the socket closes, so a stale
// timer can never reopen a channel the caller shut.
func (e *Engine) Disconnect() {
	e.sup.Cancel()
	e.ch.Disconnect("client disconnect")
	e.bus.Publish(protocol.Disconnected{Reason: "client disconnect"})
	e.store.ClearSession()
}

// ConnectionState reports the transport's view.
func (e *Engine) ConnectionState() transport.State { return e.ch.State() }

// CreateRoom sends the createRoom command over the streaming channel. The
// session is established when the roomCreated ack event arrives.
func (e *Engine) CreateRoom(ctx context.Context, name string, avatarID int, password string, settings types.RoomSettings) error {
	payload, err := protocol.EncodeCreateRoom(name, avatarID, password, settings)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	e.store.SetProfile(name, avatarID)
	if !e.ch.Send(ctx, payload) {
		return ErrNotConnected
	}
	return nil
}

// JoinRoom sends the joinRoom command; the session is established on the
// roomJoined ack event.
func (e *Engine) JoinRoom(ctx context.Context, roomCode, name string, avatarID int, password string) error {
	payload, err := protocol.EncodeJoinRoom(roomCode, name, avatarID, password)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	e.store.SetProfile(name, avatarID)
	if !e.ch.Send(ctx, payload) {
		return ErrNotConnected
	}
	return nil
}

// LeaveRoom leaves via the gateway and clears the session on success.
func (e *Engine) LeaveRoom(ctx context.Context) error {
	sess := e.store.View().State.Session
	if !sess.Active() {
		return nil
	}
	if err := e.gw.LeaveRoom(ctx, sess.RoomCode, sess.PlayerID); err != nil {
		return err
	}
	e.store.ClearSession()
	return nil
}

// Gateway exposes the transactional channel.
func (e *Engine) Gateway() *gateway.Gateway { return e.gw }

// Snapshots subscribes an observer to the store's versioned snapshots.
func (e *Engine) Snapshots(id string) <-chan session.Snapshot { return e.store.Subscribe(id) }

// Unsubscribe drops an observer registered via Snapshots.
func (e *Engine) Unsubscribe(id string) { e.store.Unsubscribe(id) }

// View returns the current snapshot.
func (e *Engine) View() session.View { return e.store.View() }

// Close disposes of the engine. Not restartable afterwards.
func (e *Engine) Close() {
	e.sup.Cancel()
	e.ch.Disconnect("engine closed")
	e.bus.Close()
	e.store.Shutdown()
}

func (e *Engine) onOpen() {
	e.sup.NoteOpen()
	e.bus.Publish(protocol.Connected{})
}

func (e *Engine) onMessage(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		// Malformed messages are dropped at this boundary, never propagated.
		e.log.Warn("dropping undecodable message", zap.Error(err))
		return
	}
	if raw, ok := ev.(protocol.Raw); ok {
		e.log.Debug("unknown message type", zap.String("type", raw.Type))
	}
	e.bus.Publish(ev)
}

func (e *Engine) onClosed(code websocket.StatusCode, reason string) {
	e.bus.Publish(protocol.Disconnected{Reason: reason})
	e.sup.NoteFailure()
}

func (e *Engine) onFailure(err error) {
	e.bus.Publish(protocol.ConnFailed{Message: err.Error()})
	e.sup.NoteFailure()
}
