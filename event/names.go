package event

import "strings"

// Structural events emitted by the orchestrator and the socket client.
const (
	STATEDONE        = "STATEDONE"
	DONE             = "DONE"
	BEFORE_DONE      = "BEFORE_DONE"
	PAUSE            = "PAUSE"
	RESUME           = "RESUME"
	LOADED           = "LOADED"
	PLAYING          = "PLAYING"
	STATECHANGE      = "STATECHANGE"
	GAMEOVER         = "GAMEOVER"
	UPDATED_PLIST    = "UPDATED_PLIST"
	NODEGAME_READY   = "NODEGAME_READY"
	NODEGAME_RECOVER = "NODEGAME_RECOVERY"
	SOCKET_CONNECT   = "SOCKET_CONNECT"
	SOCKET_DISCONN   = "SOCKET_DISCONNECT"
	TXT              = "TXT"
)

// notReplayed are never re-emitted from history: replaying them would
// restart the handshake or drive the lifecycle a second time.
var notReplayed = map[string]bool{
	STATEDONE:        true,
	DONE:             true,
	BEFORE_DONE:      true,
	PAUSE:            true,
	RESUME:           true,
	LOADED:           true,
	PLAYING:          true,
	STATECHANGE:      true,
	GAMEOVER:         true,
	NODEGAME_READY:   true,
	NODEGAME_RECOVER: true,
	SOCKET_CONNECT:   true,
	SOCKET_DISCONN:   true,
}

// Replayable reports whether an event recorded in the history may be
// re-emitted during session recovery. Outbound events, handshakes, state
// messages and acknowledgments are excluded.
func Replayable(name string) bool {
	if notReplayed[name] {
		return false
	}
	if strings.HasPrefix(name, "out.") {
		return false
	}
	for _, suffix := range []string{".HI", ".ACK", ".STATE"} {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return true
}
