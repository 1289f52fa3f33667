package gateway

// Transactional endpoints on the game server.
const (
	roomsEndpoint       = "/api/rooms"
	roomDetailsEndpoint = "/api/rooms/%s"         // roomCode
	playersEndpoint     = "/api/rooms/players"    // ?roomCode=
	leaveEndpoint       = "/api/rooms/%s/leave"   // roomCode, ?playerId=
	disbandEndpoint     = "/api/rooms/%s/disband" // roomCode
	startEndpoint       = "/api/rooms/%s/start"   // roomCode
	nextEndpoint        = "/api/game/next"        // ?roomCode=
	answerEndpoint      = "/api/game/answer"
	gameStateEndpoint   = "/api/game/state" // ?roomCode=&playerId=

	requestIDHeader = "X-Request-ID"
)
