package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/quizarena/syncengine/pkg/types"
)

// Wire discriminator values.
const (
	typeConnected     = "connected"
	typeDisconnected  = "disconnected"
	typeError         = "error"
	typeRoomCreated   = "roomCreated"
	typeRoomJoined    = "roomJoined"
	typeRoomDisbanded = "roomDisbanded"
	typePlayerJoined  = "playerJoined"
	typePlayerLeft    = "playerLeft"
	typePhaseChanged  = "phaseChanged"
	typeNewQuestion   = "newQuestion"
	typeAnswerResult  = "answerResult"
	typeRankings      = "rankings"
	typeGameEnded     = "gameEnded"

	typeCreateRoom = "createRoom"
	typeJoinRoom   = "joinRoom"
)

// Decode translates one inbound wire message into a typed Event.
// Unknown types come back as Raw; only unparseable JSON is an error, and the
// caller is expected to log and drop it rather than propagate.
func Decode(data []byte) (Event, error) {
	var m types.ServerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch m.Type {
	case typeConnected:
		return Connected{}, nil
	case typeDisconnected:
		return Disconnected{Reason: m.Message}, nil
	case typeError:
		return ErrorEvent{Message: m.Message}, nil
	case typeRoomCreated:
		return RoomCreated{RoomCode: m.RoomCode, PlayerID: m.PlayerID}, nil
	case typeRoomJoined:
		return RoomJoined{RoomCode: m.RoomCode, PlayerID: m.PlayerID}, nil
	case typeRoomDisbanded:
		return RoomDisbanded{}, nil
	case typePlayerJoined:
		return PlayerJoined{PlayerID: m.PlayerID, Name: m.PlayerName, AvatarID: m.AvatarID}, nil
	case typePlayerLeft:
		return PlayerLeft{PlayerID: m.PlayerID}, nil
	case typePhaseChanged:
		return PhaseChanged{Phase: PhaseFromOrdinal(m.State), RemainingTime: m.RemainingTime}, nil
	case typeNewQuestion:
		opts := m.Options
		if opts == nil {
			opts = []string{}
		}
		return QuestionReceived{Text: m.Text, Options: opts, Index: m.QuestionIndex}, nil
	case typeAnswerResult:
		return AnswerResult{
			Correct:       m.Correct,
			CorrectIndex:  m.CorrectIndex,
			Score:         m.Score,
			QuestionIndex: m.QuestionIndex,
		}, nil
	case typeRankings:
		return Rankings{Players: rankedPlayers(m.Players)}, nil
	case typeGameEnded:
		return GameEnded{Final: rankedPlayers(m.Players)}, nil
	default:
		return Raw{Type: m.Type, Data: data}, nil
	}
}

// rankedPlayers assigns 1-based ranks positionally; the server sends the
// list already ordered.
func rankedPlayers(in []types.PlayerInfo) []RankedPlayer {
	out := make([]RankedPlayer, 0, len(in))
	for i, p := range in {
		out = append(out, RankedPlayer{
			Rank:         i + 1,
			PlayerID:     p.ID,
			Name:         p.Name,
			Score:        p.Score,
			CorrectCount: p.CorrectCount,
			AvatarID:     p.AvatarID,
		})
	}
	return out
}

// EncodeCreateRoom builds the createRoom command. A non-empty password is
// digested before it touches the wire.
func EncodeCreateRoom(name string, avatarID int, password string, settings types.RoomSettings) ([]byte, error) {
	cmd := types.CreateRoomCommand{
		Type:     typeCreateRoom,
		Name:     name,
		AvatarID: avatarID,
		Settings: settings,
	}
	if password != "" {
		cmd.HashedPassword = HashPassword(password)
	}
	return json.Marshal(cmd)
}

// EncodeJoinRoom builds the joinRoom command, digesting the password the same
// way EncodeCreateRoom does so the server can compare digests directly.
func EncodeJoinRoom(roomCode, name string, avatarID int, password string) ([]byte, error) {
	cmd := types.JoinRoomCommand{
		Type:     typeJoinRoom,
		RoomCode: roomCode,
		Name:     name,
		AvatarID: avatarID,
	}
	if password != "" {
		cmd.Password = HashPassword(password)
	}
	return json.Marshal(cmd)
}

// HashPassword is the one-way digest applied to room passwords. Deterministic
// so the server can match it against the digest stored at room creation.
func HashPassword(plaintext string) string {
	sum := sha3.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
