package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming conventions for per-service event streams.
//
//	chatkit:{service}:stream:{path}
//
// The path is the stream path a client would open on the service, e.g.
// "users" or "users/alice/presence".
const (
	channelPrefix  = "chatkit"
	channelSegment = "stream"
)

// StreamChannel returns the channel name carrying a service stream.
func StreamChannel(service, path string) string {
	return fmt.Sprintf("%s:%s:%s:%s", channelPrefix, service, channelSegment, strings.Trim(path, "/"))
}

// parseStreamChannel splits a channel produced by StreamChannel.
func parseStreamChannel(channel string) (service, path string, err error) {
	parts := strings.SplitN(channel, ":", 4)
	if len(parts) != 4 || parts[0] != channelPrefix || parts[2] != channelSegment {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[1], parts[3], nil
}
