package client

import (
	"github.com/devprobe-project/devprobe/internal/config"
	"github.com/devprobe-project/devprobe/internal/protocol"
)

// Decide returns the message type to send back in response to msg, and
// false when no automatic reply is due. Only PING is answered, and only
// when auto-pong is enabled.
func Decide(msg protocol.Message, cfg config.ClientConfig) (protocol.MessageType, bool) {
	if msg.Type == protocol.TypePing && cfg.AutoPongReply {
		return protocol.TypePong, true
	}
	return protocol.TypeUnspecified, false
}
