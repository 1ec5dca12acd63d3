package network

import "time"

const (
	// Subprotocol is offered by peers and accepted by the relay.
	Subprotocol = "gamesync.v1"

	// RecipientAll and RecipientServer are the reserved values of a
	// message's To field.
	RecipientAll    = "ALL"
	RecipientServer = "SERVER"

	HeartbeatInterval = 30 * time.Second
	WriteWait         = 10 * time.Second
	MaxMessageSize    = 1 << 20
)
