package room

// Broadcaster fans a frame out to the sessions of a room. Defined here to
// break the import cycle between room and broadcast.
type Broadcaster interface {
	BroadcastToRoom(roomID string, data []byte, except ...string) error
}
