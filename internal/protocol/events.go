package protocol

// Phase is the server-driven stage of a game round. The client never
// self-transitions; phase only moves on PhaseChanged/GameEnded events.
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseCountdown
	PhaseQuestion
	PhaseAnswerReveal
	PhaseFinal
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "lobby"
	case PhaseCountdown:
		return "countdown"
	case PhaseQuestion:
		return "question"
	case PhaseAnswerReveal:
		return "answer_reveal"
	case PhaseFinal:
		return "final"
	default:
		return "unknown"
	}
}

// PhaseFromOrdinal maps the wire "state" field to a Phase. Out-of-range
// ordinals fall back to PhaseLobby so a newer server cannot wedge the client.
func PhaseFromOrdinal(n int) Phase {
	if n < int(PhaseLobby) || n > int(PhaseFinal) {
		return PhaseLobby
	}
	return Phase(n)
}

// Event is the closed set of decoded protocol events. Unknown wire types
// decode to Raw rather than an error.
type Event interface{ isEvent() }

type Connected struct{}

type Disconnected struct{ Reason string }

type ErrorEvent struct{ Message string }

// ConnFailed is engine-internal: the transport failed. It is never decoded
// from the wire; the engine publishes it when the channel reports a failure.
type ConnFailed struct{ Message string }

type RoomCreated struct {
	RoomCode string
	PlayerID string
}

type RoomJoined struct {
	RoomCode string
	PlayerID string
}

// RoomDisbanded is pushed to every member when the host disbands the room.
type RoomDisbanded struct{}

type PlayerJoined struct {
	PlayerID string
	Name     string
	AvatarID int
}

type PlayerLeft struct{ PlayerID string }

type PhaseChanged struct {
	Phase         Phase
	RemainingTime int
}

type QuestionReceived struct {
	Text    string
	Options []string
	Index   int
}

// AnswerResult carries the question index it answers so a stale result
// arriving after the room has moved on can be correlated and discarded.
type AnswerResult struct {
	Correct       bool
	CorrectIndex  int
	Score         int
	QuestionIndex int
}

type RankedPlayer struct {
	Rank         int
	PlayerID     string
	Name         string
	Score        int
	CorrectCount int
	AvatarID     int
}

type Rankings struct{ Players []RankedPlayer }

type GameEnded struct{ Final []RankedPlayer }

// Raw preserves messages of types this client does not know about.
type Raw struct {
	Type string
	Data []byte
}

func (Connected) isEvent()        {}
func (Disconnected) isEvent()     {}
func (ErrorEvent) isEvent()       {}
func (ConnFailed) isEvent()       {}
func (RoomCreated) isEvent()      {}
func (RoomJoined) isEvent()       {}
func (RoomDisbanded) isEvent()    {}
func (PlayerJoined) isEvent()     {}
func (PlayerLeft) isEvent()       {}
func (PhaseChanged) isEvent()     {}
func (QuestionReceived) isEvent() {}
func (AnswerResult) isEvent()     {}
func (Rankings) isEvent()         {}
func (GameEnded) isEvent()        {}
func (Raw) isEvent()              {}
