// Package session holds the reconciliation core: a single-goroutine store
// that merges streamed events and local lifecycle commands into one versioned,
// observable snapshot.
package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/quizarena/syncengine/internal/game"
	"github.com/quizarena/syncengine/internal/protocol"
)

type msg interface{ isStoreMsg() }

type applyEvent struct{ ev protocol.Event }

type subscribe struct {
	id     string
	outbox chan Snapshot
}

type unsubscribe struct{ id string }

type getView struct{ reply chan View }

type setProfile struct {
	name   string
	avatar int
}

type clearSession struct{}

type shutdown struct{}

func (applyEvent) isStoreMsg()   {}
func (subscribe) isStoreMsg()    {}
func (unsubscribe) isStoreMsg()  {}
func (getView) isStoreMsg()      {}
func (setProfile) isStoreMsg()   {}
func (clearSession) isStoreMsg() {}
func (shutdown) isStoreMsg()     {}

// Snapshot is one immutable, versioned view handed to observers.
type Snapshot struct {
	Version int
	State   game.State
}

// View adds store internals for queries and tests.
type View struct {
	Version        int
	NumSubscribers int
	State          game.State
}

// Store owns the session snapshot. All mutation happens on its loop
// goroutine, so events from the streaming channel and results from gateway
// calls can arrive in any interleaving without tearing the state.
type Store struct {
	inbox   chan msg
	state   game.State
	version int
	subs    map[string]chan Snapshot
	log     *zap.Logger
	done    chan struct{}
}

func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		inbox: make(chan msg, 64),
		state: game.NewState(),
		subs:  make(map[string]chan Snapshot),
		log:   log,
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

// Apply reduces one protocol event into the snapshot.
func (s *Store) Apply(ev protocol.Event) {
	s.send(applyEvent{ev: ev})
}

// Subscribe registers an observer. The current snapshot is delivered
// immediately so a late subscriber never starts blind.
func (s *Store) Subscribe(id string) <-chan Snapshot {
	out := make(chan Snapshot, 8)
	s.send(subscribe{id: id, outbox: out})
	return out
}

func (s *Store) Unsubscribe(id string) {
	s.send(unsubscribe{id: id})
}

// SetProfile records the locally chosen name/avatar before a create or join
// command goes out; the room ack uses it to seed the roster with self.
func (s *Store) SetProfile(name string, avatarID int) {
	s.send(setProfile{name: name, avatar: avatarID})
}

// ClearSession tears down session-derived state. Used for explicit leave,
// disband, and caller-initiated disconnect; transport drops never call this.
func (s *Store) ClearSession() {
	s.send(clearSession{})
}

// View returns the current snapshot plus store internals.
func (s *Store) View() View {
	reply := make(chan View, 1)
	s.send(getView{reply: reply})
	select {
	case v := <-reply:
		return v
	case <-s.done:
		return View{}
	case <-time.After(5 * time.Second):
		return View{}
	}
}

// IsHost implements gateway.SessionInfo.
func (s *Store) IsHost() bool { return s.View().State.Session.IsHost }

// Phase implements gateway.SessionInfo.
func (s *Store) Phase() protocol.Phase { return s.View().State.Phase }

// Shutdown stops the loop and closes every subscriber channel.
func (s *Store) Shutdown() {
	s.send(shutdown{})
}

func (s *Store) send(m msg) {
	select {
	case s.inbox <- m:
	case <-s.done:
	}
}

func (s *Store) loop() {
	for m := range s.inbox {
		switch m := m.(type) {
		case applyEvent:
			next, changed := game.Apply(s.state, m.ev)
			if !changed {
				continue
			}
			s.state = next
			s.version++
			s.broadcast()

		case subscribe:
			s.subs[m.id] = m.outbox
			m.outbox <- Snapshot{Version: s.version, State: s.state}

		case unsubscribe:
			if ch, ok := s.subs[m.id]; ok {
				close(ch)
				delete(s.subs, m.id)
			}

		case setProfile:
			s.state.SelfName = m.name
			s.state.SelfAvatar = m.avatar

		case clearSession:
			s.state = game.ClearSession(s.state)
			s.version++
			s.broadcast()

		case getView:
			m.reply <- View{
				Version:        s.version,
				NumSubscribers: len(s.subs),
				State:          s.state,
			}

		case shutdown:
			for id, ch := range s.subs {
				close(ch)
				delete(s.subs, id)
			}
			close(s.done)
			return
		}
	}
}

// broadcast pushes the new snapshot to every subscriber. A full buffer sheds
// its oldest snapshot first: snapshots are self-contained, latest wins.
func (s *Store) broadcast() {
	snap := Snapshot{Version: s.version, State: s.state}
	for id, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
			s.log.Warn("subscriber not draining, snapshot dropped", zap.String("subscriber", id))
		}
	}
}
