package types

// Streaming channel wire format. One JSON object per logical event, keyed on "type".
//
// Server -> Client types:
//   connected, disconnected, error,
//   roomCreated, roomJoined, roomDisbanded,
//   playerJoined, playerLeft,
//   phaseChanged, newQuestion, answerResult,
//   rankings, gameEnded
//
// Client -> Server types:
//   createRoom, joinRoom

// ServerMessage is the envelope for every server-pushed event. Fields not used
// by a given type are omitted on the wire and zero-valued after decode.
type ServerMessage struct {
	Type          string       `json:"type"`
	RoomCode      string       `json:"roomCode,omitempty"`
	PlayerID      string       `json:"playerId,omitempty"`
	PlayerName    string       `json:"playerName,omitempty"`
	AvatarID      int          `json:"avatarId,omitempty"`
	State         int          `json:"state,omitempty"` // phase ordinal
	RemainingTime int          `json:"remainingTime,omitempty"`
	Text          string       `json:"text,omitempty"`
	Options       []string     `json:"options,omitempty"`
	QuestionIndex int          `json:"questionIndex,omitempty"`
	Correct       bool         `json:"correct,omitempty"`
	CorrectIndex  int          `json:"correctIndex,omitempty"`
	Score         int          `json:"score,omitempty"`
	Players       []PlayerInfo `json:"players,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// PlayerInfo is the per-player entry used in rankings and roster payloads.
// Order in a rankings payload is rank order; rank itself is positional (1-based).
type PlayerInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Score        int    `json:"score"`
	CorrectCount int    `json:"correctCount"`
	AvatarID     int    `json:"avatarId"`
}

// RoomSettings is opaque to the engine; the server interprets it.
type RoomSettings struct {
	QuestionCount      int    `json:"questionCount"`
	SecondsPerQuestion int    `json:"secondsPerQuestion"`
	Category           string `json:"category"`
}

// CreateRoomCommand asks the server to open a room. HashedPassword carries a
// one-way digest; the plaintext never goes on the wire.
type CreateRoomCommand struct {
	Type           string       `json:"type"`
	Name           string       `json:"name"`
	AvatarID       int          `json:"avatarId"`
	HashedPassword string       `json:"hashedPassword,omitempty"`
	Settings       RoomSettings `json:"settings"`
}

// JoinRoomCommand asks the server to add the player to an existing room.
// Password carries the same digest as CreateRoomCommand.HashedPassword.
type JoinRoomCommand struct {
	Type     string `json:"type"`
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
	AvatarID int    `json:"avatarId"`
	Password string `json:"password,omitempty"`
}
