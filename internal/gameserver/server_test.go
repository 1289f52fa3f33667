package gameserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizarena/syncengine/internal/gateway"
	"github.com/quizarena/syncengine/pkg/types"
)

func TestCreateRoomSeedsHostAndCode(t *testing.T) {
	s := New(nil)
	room, hostID := s.createRoom("Grace", "digest", 2, types.RoomSettings{QuestionCount: 10})

	assert.Len(t, room.code, 6)
	require.Len(t, room.players, 1)
	assert.Equal(t, hostID, room.players[0].ID)
	assert.Equal(t, "Grace", room.players[0].Name)
	assert.Same(t, room, s.getRoom(room.code))
}

func TestGenerateCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		seen[code] = true
	}
	// 36^6 codes; 50 draws colliding would point at a broken generator.
	assert.Len(t, seen, 50)
}

func TestListRoomsReportsPasswordFlag(t *testing.T) {
	s := New(nil)
	open, _ := s.createRoom("Ada", "", 1, types.RoomSettings{})
	locked, _ := s.createRoom("Linus", "digest", 1, types.RoomSettings{})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rooms []gateway.RoomSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 2)

	flags := map[string]bool{}
	for _, r := range rooms {
		flags[r.RoomCode] = r.HasPassword
	}
	assert.False(t, flags[open.code])
	assert.True(t, flags[locked.code])
}

func TestStartRejectsSecondAttempt(t *testing.T) {
	s := New(nil)
	room, _ := s.createRoom("Ada", "", 1, types.RoomSettings{})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/rooms/"+room.code+"/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/rooms/"+room.code+"/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRemovePlayerDetachesClient(t *testing.T) {
	s := New(nil)
	room, hostID := s.createRoom("Ada", "", 1, types.RoomSettings{})
	out := make(chan types.ServerMessage, 1)
	room.mu.Lock()
	room.clients[hostID] = out
	room.mu.Unlock()

	require.True(t, room.removePlayer(hostID))
	assert.False(t, room.removePlayer(hostID), "second remove is a no-op")
	_, open := <-out
	assert.False(t, open, "departed player's stream is closed")
	assert.Empty(t, room.players)
}
