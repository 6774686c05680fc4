package presence

import (
	"sort"
	"sync"

	"github.com/Tyrowin/travelchat/internal/chat"
)

type subscription struct {
	channel chat.ChannelID
	user    chat.UserID
}

// Change describes the roster of one channel after a mutation.
type Change struct {
	Channel chat.ChannelID
	Online  int
	// Changed is false when the mutation left the set of online users as it
	// was, e.g. a second device of an already present user.
	Changed bool
}

// Tracker holds the online roster of every channel at connection
// granularity: a user stays present while at least one of their connections
// is subscribed, so closing one device never hides a user still watching
// from another.
//
// The roster and the connection -> channel reverse index are guarded by one
// lock; every method leaves both consistent.
type Tracker struct {
	mu      sync.RWMutex
	rosters map[chat.ChannelID]map[chat.UserID]map[chat.ConnectionHandle]struct{}
	byConn  map[chat.ConnectionHandle]subscription
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		rosters: make(map[chat.ChannelID]map[chat.UserID]map[chat.ConnectionHandle]struct{}),
		byConn:  make(map[chat.ConnectionHandle]subscription),
	}
}

// Subscribe records that connection h of user watches channel. A connection
// watches at most one channel; subscribing it to a different channel first
// releases the previous one, reported through left.
func (t *Tracker) Subscribe(h chat.ConnectionHandle, user chat.UserID, channel chat.ChannelID) (joined Change, left *Change) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.byConn[h]; ok {
		if prev.channel == channel && prev.user == user {
			return Change{Channel: channel, Online: len(t.rosters[channel])}, nil
		}
		released := t.release(h, prev)
		left = &released
	}

	t.byConn[h] = subscription{channel: channel, user: user}
	users, ok := t.rosters[channel]
	if !ok {
		users = make(map[chat.UserID]map[chat.ConnectionHandle]struct{})
		t.rosters[channel] = users
	}
	conns, present := users[user]
	if !present {
		conns = make(map[chat.ConnectionHandle]struct{})
		users[user] = conns
	}
	conns[h] = struct{}{}

	return Change{Channel: channel, Online: len(users), Changed: !present}, left
}

// Disconnect drops h from the reverse index and from the roster it was in.
// ok is false when h was not subscribed, which makes repeated disconnects
// harmless.
func (t *Tracker) Disconnect(h chat.ConnectionHandle) (change Change, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.byConn[h]
	if !ok {
		return Change{}, false
	}
	return t.release(h, sub), true
}

// release must be called with t.mu held.
func (t *Tracker) release(h chat.ConnectionHandle, sub subscription) Change {
	delete(t.byConn, h)

	users := t.rosters[sub.channel]
	conns := users[sub.user]
	delete(conns, h)

	changed := false
	if len(conns) == 0 && users != nil {
		if _, present := users[sub.user]; present {
			delete(users, sub.user)
			changed = true
		}
	}
	online := len(users)
	if online == 0 {
		delete(t.rosters, sub.channel)
	}
	return Change{Channel: sub.channel, Online: online, Changed: changed}
}

// Online returns the number of distinct users present in channel.
func (t *Tracker) Online(channel chat.ChannelID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rosters[channel])
}

// Users returns the users present in channel in ascending id order.
func (t *Tracker) Users(channel chat.ChannelID) []chat.UserID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := t.rosters[channel]
	out := make([]chat.UserID, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsOnline reports whether user has a connection subscribed to channel.
func (t *Tracker) IsOnline(channel chat.ChannelID, user chat.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rosters[channel][user]
	return ok
}

// ChannelOf returns the channel connection h is subscribed to.
func (t *Tracker) ChannelOf(h chat.ConnectionHandle) (chat.ChannelID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sub, ok := t.byConn[h]
	return sub.channel, ok
}
