package service

// Broadcaster fans events out to a room's connections. Implemented by the
// ws hub; an interface here avoids the transport import cycle. Delivery is
// best effort: a connection disappearing between event construction and
// delivery is never fatal to a round.
type Broadcaster interface {
	BroadcastToRoom(roomCode string, msg any)
	SendToUser(roomCode, userID string, msg any)
	DisconnectRoom(roomCode string)
}
