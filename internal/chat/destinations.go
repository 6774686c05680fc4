package chat

import (
	"strconv"
	"strings"
)

const (
	topicGroupsPrefix = "/topic/groups/"
	appGroupsPrefix   = "/app/groups/"

	// DisconnectQueue is the private per-user address that receives
	// force-disconnect signals.
	DisconnectQueue = "/queue/disconnect"

	// ForceDisconnectSignal is the literal payload asking a client to close.
	ForceDisconnectSignal = "FORCE_DISCONNECT"
)

// ChannelTopic is where chat, typing and deletion envelopes are fanned out.
func ChannelTopic(id ChannelID) string {
	return topicGroupsPrefix + strconv.FormatInt(int64(id), 10)
}

// PresenceTopic is where presence-ping echoes are fanned out.
func PresenceTopic(id ChannelID) string {
	return ChannelTopic(id) + "/presence"
}

// OnlineTopic carries the integer online count of a channel.
func OnlineTopic(id ChannelID) string {
	return ChannelTopic(id) + "/online"
}

// ChannelFromTopic extracts the channel id from any /topic/groups/{id}[/...]
// destination: the fourth path segment. ok is false for destinations that do
// not match or carry a malformed id.
func ChannelFromTopic(destination string) (ChannelID, bool) {
	if !strings.HasPrefix(destination, topicGroupsPrefix) {
		return 0, false
	}
	parts := strings.Split(destination, "/")
	if len(parts) < 4 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return ChannelID(id), true
}

// Route names the application handler an inbound SEND is addressed to.
type Route int

const (
	RouteUnknown Route = iota
	RouteChat
	RoutePresence
)

// ParseAppDestination resolves /app/groups/{id}/chat and
// /app/groups/{id}/presence.
func ParseAppDestination(destination string) (ChannelID, Route) {
	rest, ok := strings.CutPrefix(destination, appGroupsPrefix)
	if !ok {
		return 0, RouteUnknown
	}
	idPart, action, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, RouteUnknown
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, RouteUnknown
	}
	switch action {
	case "chat":
		return ChannelID(id), RouteChat
	case "presence":
		return ChannelID(id), RoutePresence
	default:
		return 0, RouteUnknown
	}
}
