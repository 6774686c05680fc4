package presence

import (
	"log/slog"

	"github.com/Tyrowin/travelchat/internal/chat"
)

// Recorder receives presence lifecycle events for instrumentation.
type Recorder interface {
	PresenceUpdated(event string)
}

type nopRecorder struct{}

func (nopRecorder) PresenceUpdated(string) {}

// Stage is the presence step of the connection lifecycle. It runs after
// authentication on every subscribe and disconnect, keeps the tracker and the
// session registry current and publishes the resulting online counts.
type Stage struct {
	tracker   *Tracker
	sessions  *Sessions
	publisher chat.Publisher
	logger    *slog.Logger
	recorder  Recorder
}

// NewStage wires a Stage. recorder may be nil.
func NewStage(tracker *Tracker, sessions *Sessions, publisher chat.Publisher, logger *slog.Logger, recorder Recorder) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Stage{
		tracker:   tracker,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger.With("component", "presence"),
		recorder:  recorder,
	}
}

// Subscribed handles a subscription of connection h. Destinations that are
// not /topic/groups/{id}... are ignored.
func (s *Stage) Subscribed(h chat.ConnectionHandle, p chat.Principal, destination string) {
	channel, ok := chat.ChannelFromTopic(destination)
	if !ok {
		return
	}

	joined, left := s.tracker.Subscribe(h, p.UserID, channel)
	if left != nil {
		s.publishCount(*left)
		s.recorder.PresenceUpdated("leave")
	}
	s.publishCount(joined)
	s.recorder.PresenceUpdated("join")

	s.logger.Debug("presence subscribe",
		"conn_id", h,
		"user_id", p.UserID,
		"channel_id", channel,
		"online", joined.Online)
}

// Disconnected releases everything held for connection h. It is safe to call
// more than once for the same handle.
func (s *Stage) Disconnected(h chat.ConnectionHandle, p chat.Principal) {
	if change, ok := s.tracker.Disconnect(h); ok {
		s.publishCount(change)
		s.recorder.PresenceUpdated("leave")
		s.logger.Debug("presence disconnect",
			"conn_id", h,
			"user_id", p.UserID,
			"channel_id", change.Channel,
			"online", change.Online)
	}

	if removed, remaining := s.sessions.Unregister(p.UserID, h); removed {
		s.logger.Debug("session closed", "conn_id", h, "user_id", p.UserID, "remaining", remaining)
	}
}

// Online returns the current roster size of channel.
func (s *Stage) Online(channel chat.ChannelID) int {
	return s.tracker.Online(channel)
}

// Users returns the distinct users currently on channel's roster.
func (s *Stage) Users(channel chat.ChannelID) []chat.UserID {
	return s.tracker.Users(channel)
}

func (s *Stage) publishCount(c Change) {
	s.publisher.Publish(chat.OnlineTopic(c.Channel), c.Online)
}
