package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errRefused = errors.New("connection refused")

func TestConnectIdempotentWhileConnecting(t *testing.T) {
	gate := make(chan struct{})
	var dials atomic.Int32

	ch := NewChannel(Callbacks{}, Options{Logger: zap.NewNop()})
	ch.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		dials.Add(1)
		<-gate
		return nil, errRefused
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- ch.Connect(context.Background(), "ws://game") }()

	require.Eventually(t, func() bool { return ch.State() == Connecting },
		time.Second, 5*time.Millisecond)

	// Second connect during Connecting: immediate no-op, no second dial.
	require.NoError(t, ch.Connect(context.Background(), "ws://game"))
	assert.Equal(t, int32(1), dials.Load())

	close(gate)
	require.Error(t, <-firstDone)
	assert.Equal(t, int32(1), dials.Load(), "exactly one underlying connection attempt")
}

func TestConnectFailureSetsErroredAndNotifies(t *testing.T) {
	var failures atomic.Int32
	ch := NewChannel(Callbacks{
		OnFailure: func(err error) { failures.Add(1) },
	}, Options{Logger: zap.NewNop()})
	ch.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		return nil, errRefused
	}

	err := ch.Connect(context.Background(), "ws://game")
	require.ErrorIs(t, err, errRefused)
	assert.Equal(t, Errored, ch.State())
	assert.ErrorIs(t, ch.Err(), errRefused)
	assert.Equal(t, int32(1), failures.Load())
}

func TestSendReturnsFalseWhenNotConnected(t *testing.T) {
	ch := NewChannel(Callbacks{}, Options{Logger: zap.NewNop()})
	assert.False(t, ch.Send(context.Background(), []byte(`{"type":"createRoom"}`)))
}

func TestDisconnectIsTerminalUntilNextConnect(t *testing.T) {
	ch := NewChannel(Callbacks{}, Options{Logger: zap.NewNop()})
	ch.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		return nil, errRefused
	}
	_ = ch.Connect(context.Background(), "ws://game")
	require.Equal(t, Errored, ch.State())

	ch.Disconnect("done")
	assert.Equal(t, Disconnected, ch.State())
	assert.NoError(t, ch.Err())
}

func TestLiveConnectionDeliversMessagesInOrder(t *testing.T) {
	payloads := []string{
		`{"type":"roomCreated","roomCode":"AAA111","playerId":"p1"}`,
		`{"type":"phaseChanged","state":1,"remainingTime":3}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for _, p := range payloads {
			_ = conn.Write(r.Context(), websocket.MessageText, []byte(p))
		}
		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	opened := make(chan struct{}, 1)
	got := make(chan []byte, 8)
	ch := NewChannel(Callbacks{
		OnOpen:    func() { opened <- struct{}{} },
		OnMessage: func(data []byte) { got <- data },
	}, Options{Logger: zap.NewNop()})

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.NoError(t, ch.Connect(context.Background(), endpoint))
	defer ch.Disconnect("test over")

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen never fired")
	}
	assert.Equal(t, Connected, ch.State())

	for _, want := range payloads {
		select {
		case data := <-got:
			assert.JSONEq(t, want, string(data))
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	}

	assert.True(t, ch.Send(context.Background(), []byte(`{"type":"joinRoom"}`)))
}

func TestIdleConnectionSurvivesOnHeartbeatsAlone(t *testing.T) {
	// A server that pushes nothing but answers control frames.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.Read(r.Context()) // services ping/pong while blocked
	}))
	defer srv.Close()

	var closed, failed atomic.Int32
	ch := NewChannel(Callbacks{
		OnClosed:  func(code websocket.StatusCode, reason string) { closed.Add(1) },
		OnFailure: func(err error) { failed.Add(1) },
	}, Options{
		PingInterval: 50 * time.Millisecond,
		ReadTimeout:  200 * time.Millisecond,
		Logger:       zap.NewNop(),
	})

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.NoError(t, ch.Connect(context.Background(), endpoint))
	defer ch.Disconnect("test over")

	// Sit idle well past the pong deadline; succeeding heartbeats must keep
	// the channel alive.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, Connected, ch.State())
	assert.Equal(t, int32(0), failed.Load())
	assert.Equal(t, int32(0), closed.Load())
}

func TestServerCloseSurfacesExactlyOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusGoingAway, "server restarting")
	}))
	defer srv.Close()

	var closed, failed atomic.Int32
	ch := NewChannel(Callbacks{
		OnClosed:  func(code websocket.StatusCode, reason string) { closed.Add(1) },
		OnFailure: func(err error) { failed.Add(1) },
	}, Options{Logger: zap.NewNop()})

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.NoError(t, ch.Connect(context.Background(), endpoint))

	require.Eventually(t, func() bool { return closed.Load()+failed.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), closed.Load()+failed.Load(), "one break, one notification")
	assert.NotEqual(t, Connected, ch.State())
}

func TestSupervisorLinearBackoffUpToCap(t *testing.T) {
	fc := clockwork.NewFakeClock()
	var dials atomic.Int32

	var sup *Supervisor
	ch := NewChannel(Callbacks{
		OnFailure: func(err error) { sup.NoteFailure() },
	}, Options{Clock: fc, Logger: zap.NewNop()})
	ch.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		dials.Add(1)
		return nil, errRefused
	}
	sup = NewSupervisor(ch, time.Second, 3, fc, zap.NewNop())

	sup.Track("ws://game")
	sup.NoteFailure() // the initial drop

	// Attempt n fires after baseDelay*n. Wait for the attempt counter before
	// advancing: it is recorded in the same critical section that arms the
	// timer, so the fake clock never advances past an unarmed timer.
	for n := 1; n <= 3; n++ {
		require.Eventually(t, func() bool { return sup.Attempts() == n },
			time.Second, 5*time.Millisecond)
		fc.Advance(time.Duration(n) * time.Second)
		want := int32(n)
		require.Eventually(t, func() bool { return dials.Load() == want },
			time.Second, 5*time.Millisecond, "attempt %d", n)
	}

	// Cap reached: no further implicit attempts, ever.
	fc.Advance(time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), dials.Load())
	assert.Equal(t, Errored, ch.State())

	// An explicit caller Connect re-arms recovery.
	sup.Track("ws://game")
	require.Error(t, ch.Connect(context.Background(), "ws://game"))
	assert.Equal(t, int32(4), dials.Load())
	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return dials.Load() == 5 },
		time.Second, 5*time.Millisecond)
}

func TestCancelAbortsScheduledAttempt(t *testing.T) {
	fc := clockwork.NewFakeClock()
	var dials atomic.Int32

	ch := NewChannel(Callbacks{}, Options{Clock: fc, Logger: zap.NewNop()})
	ch.dial = func(ctx context.Context, endpoint string) (*websocket.Conn, error) {
		dials.Add(1)
		return nil, errRefused
	}
	sup := NewSupervisor(ch, time.Second, 5, fc, zap.NewNop())
	sup.Track("ws://game")
	sup.NoteFailure()
	require.Equal(t, 1, sup.Attempts())

	sup.Cancel()
	fc.Advance(time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), dials.Load(), "a cancelled attempt must never dial")

	// Failures reported after Cancel are ignored too.
	sup.NoteFailure()
	fc.Advance(time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), dials.Load())
}

func TestNoteOpenResetsAttemptCounter(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ch := NewChannel(Callbacks{}, Options{Clock: fc, Logger: zap.NewNop()})
	sup := NewSupervisor(ch, time.Second, 5, fc, zap.NewNop())
	sup.Track("ws://game")

	sup.NoteFailure()
	sup.NoteFailure()
	require.Equal(t, 2, sup.Attempts())

	sup.NoteOpen()
	assert.Equal(t, 0, sup.Attempts())
}
