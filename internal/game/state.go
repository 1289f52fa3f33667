package game

import (
	"github.com/quizarena/syncengine/internal/protocol"
)

// ConnStatus mirrors the transport's view of the connection inside the
// snapshot so observers render connectivity and game state from one value.
type ConnStatus string

const (
	ConnDisconnected ConnStatus = "disconnected"
	ConnConnected    ConnStatus = "connected"
	ConnError        ConnStatus = "error"
)

// Session is the client's claim to a room/player identity. The zero value
// means no active session.
type Session struct {
	RoomCode string
	PlayerID string
	IsHost   bool
}

func (s Session) Active() bool { return s.RoomCode != "" }

type Player struct {
	ID       string
	Name     string
	AvatarID int
	Score    int
}

type Question struct {
	Text    string
	Options []string
	Index   int
}

type AnswerOutcome struct {
	Correct       bool
	CorrectIndex  int
	Score         int
	QuestionIndex int
}

// State is one coherent view of connection, room, and game. It is a value
// type: Apply never mutates its input, so snapshots handed to observers stay
// stable even while new events arrive.
type State struct {
	Conn      ConnStatus
	LastError string

	// SelfName/SelfAvatar are the locally chosen profile, recorded when a
	// create/join command is issued and used to seed the roster on the ack.
	SelfName   string
	SelfAvatar int

	Session       Session
	Players       map[string]Player
	Phase         protocol.Phase
	RemainingTime int
	Question      *Question
	Outcome       *AnswerOutcome
	Rankings      []protocol.RankedPlayer
}

// NewState returns the pre-connection state.
func NewState() State {
	return State{
		Conn:    ConnDisconnected,
		Players: map[string]Player{},
		Phase:   protocol.PhaseLobby,
	}
}

// Apply reduces one protocol event into the next state. The second return
// reports whether anything observable changed, so the store only broadcasts
// meaningful snapshots. Duplicate and stale events reduce to no-ops here
// rather than leaking corruption into the snapshot.
func Apply(s State, ev protocol.Event) (State, bool) {
	switch e := ev.(type) {
	case protocol.Connected:
		if s.Conn == ConnConnected && s.LastError == "" {
			return s, false
		}
		s.Conn = ConnConnected
		s.LastError = ""
		return s, true

	case protocol.Disconnected:
		// Session and derived state survive a drop so the UI stays intact
		// across a brief reconnect.
		if s.Conn == ConnDisconnected {
			return s, false
		}
		s.Conn = ConnDisconnected
		return s, true

	case protocol.ErrorEvent:
		// A server-side protocol error; the connection itself is fine.
		s.LastError = e.Message
		return s, true

	case protocol.ConnFailed:
		s.Conn = ConnError
		s.LastError = e.Message
		return s, true

	case protocol.RoomCreated:
		return establishSession(s, e.RoomCode, e.PlayerID, true), true

	case protocol.RoomJoined:
		return establishSession(s, e.RoomCode, e.PlayerID, false), true

	case protocol.RoomDisbanded:
		if !s.Session.Active() {
			return s, false
		}
		return ClearSession(s), true

	case protocol.PlayerJoined:
		if !s.Session.Active() {
			return s, false
		}
		if _, known := s.Players[e.PlayerID]; known {
			// Duplicate join for a known id is a no-op.
			return s, false
		}
		s.Players = clonePlayers(s.Players)
		s.Players[e.PlayerID] = Player{ID: e.PlayerID, Name: e.Name, AvatarID: e.AvatarID}
		return s, true

	case protocol.PlayerLeft:
		if _, known := s.Players[e.PlayerID]; !known {
			return s, false
		}
		s.Players = clonePlayers(s.Players)
		delete(s.Players, e.PlayerID)
		return s, true

	case protocol.PhaseChanged:
		s.Phase = e.Phase
		s.RemainingTime = e.RemainingTime
		switch e.Phase {
		case protocol.PhaseLobby, protocol.PhaseCountdown, protocol.PhaseFinal:
			// The question block belongs to the round that just ended.
			s.Question = nil
			s.Outcome = nil
		}
		return s, true

	case protocol.QuestionReceived:
		q := Question{Text: e.Text, Options: e.Options, Index: e.Index}
		s.Question = &q
		s.Outcome = nil
		return s, true

	case protocol.AnswerResult:
		// A result for a question we have already advanced past (slow
		// network, post-reconnect replay) is discarded.
		if s.Question == nil || s.Question.Index != e.QuestionIndex {
			return s, false
		}
		o := AnswerOutcome{
			Correct:       e.Correct,
			CorrectIndex:  e.CorrectIndex,
			Score:         e.Score,
			QuestionIndex: e.QuestionIndex,
		}
		s.Outcome = &o
		if self, ok := s.Players[s.Session.PlayerID]; ok {
			s.Players = clonePlayers(s.Players)
			self.Score = e.Score
			s.Players[self.ID] = self
		}
		return s, true

	case protocol.Rankings:
		s.Rankings = e.Players
		s.Players = applyScores(s.Players, e.Players)
		return s, true

	case protocol.GameEnded:
		s.Rankings = e.Final
		s.Players = applyScores(s.Players, e.Final)
		s.Phase = protocol.PhaseFinal
		s.RemainingTime = 0
		s.Question = nil
		s.Outcome = nil
		return s, true

	default:
		// Raw and anything future: nothing for the snapshot.
		return s, false
	}
}

// ClearSession drops the session and every piece of state derived from it,
// atomically from the observer's point of view (one snapshot).
func ClearSession(s State) State {
	s.Session = Session{}
	s.Players = map[string]Player{}
	s.Phase = protocol.PhaseLobby
	s.RemainingTime = 0
	s.Question = nil
	s.Outcome = nil
	s.Rankings = nil
	return s
}

func establishSession(s State, roomCode, playerID string, isHost bool) State {
	s = ClearSession(s)
	s.Session = Session{RoomCode: roomCode, PlayerID: playerID, IsHost: isHost}
	s.Players = map[string]Player{
		playerID: {ID: playerID, Name: s.SelfName, AvatarID: s.SelfAvatar},
	}
	return s
}

func clonePlayers(in map[string]Player) map[string]Player {
	out := make(map[string]Player, len(in))
	for id, p := range in {
		out[id] = p
	}
	return out
}

// applyScores folds authoritative ranking scores back into the roster.
func applyScores(players map[string]Player, ranked []protocol.RankedPlayer) map[string]Player {
	if len(ranked) == 0 {
		return players
	}
	out := clonePlayers(players)
	for _, r := range ranked {
		p, ok := out[r.PlayerID]
		if !ok {
			continue
		}
		p.Score = r.Score
		out[r.PlayerID] = p
	}
	return out
}
