package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Tyrowin/travelchat/internal/chat"
)

// TestTrackerSubscribeAndDisconnect verifies a user joins the roster on
// subscribe and leaves it when their only connection drops.
func TestTrackerSubscribeAndDisconnect(t *testing.T) {
	tr := NewTracker()

	joined, left := tr.Subscribe("c1", 1, 5)
	if left != nil {
		t.Fatalf("unexpected left change: %+v", left)
	}
	if !joined.Changed || joined.Online != 1 || joined.Channel != 5 {
		t.Fatalf("unexpected join change: %+v", joined)
	}
	if !tr.IsOnline(5, 1) {
		t.Fatal("user 1 should be online in channel 5")
	}

	change, ok := tr.Disconnect("c1")
	if !ok {
		t.Fatal("Disconnect should report the subscription")
	}
	if !change.Changed || change.Online != 0 {
		t.Fatalf("unexpected disconnect change: %+v", change)
	}
	if tr.IsOnline(5, 1) {
		t.Fatal("user 1 should be offline after disconnect")
	}
	if _, ok := tr.ChannelOf("c1"); ok {
		t.Fatal("reverse index should be cleared")
	}
}

// TestTrackerMultiDeviceKeepsUserPresent covers a user watching the same
// channel from two devices: closing one leaves them online.
func TestTrackerMultiDeviceKeepsUserPresent(t *testing.T) {
	tr := NewTracker()
	tr.Subscribe("phone", 1, 5)
	second, _ := tr.Subscribe("laptop", 1, 5)

	if second.Changed {
		t.Error("second device must not change the roster")
	}
	if second.Online != 1 {
		t.Errorf("online = %d, want 1", second.Online)
	}

	change, _ := tr.Disconnect("phone")
	if change.Changed || change.Online != 1 {
		t.Errorf("unexpected change after first device left: %+v", change)
	}
	if !tr.IsOnline(5, 1) {
		t.Fatal("user must stay online while the laptop is connected")
	}

	change, _ = tr.Disconnect("laptop")
	if !change.Changed || change.Online != 0 {
		t.Errorf("unexpected change after last device left: %+v", change)
	}
}

// TestTrackerDisconnectIsIdempotent verifies repeated disconnects do nothing.
func TestTrackerDisconnectIsIdempotent(t *testing.T) {
	tr := NewTracker()
	tr.Subscribe("c1", 1, 5)
	tr.Subscribe("c2", 2, 5)

	if _, ok := tr.Disconnect("c1"); !ok {
		t.Fatal("first disconnect should succeed")
	}
	for i := 0; i < 3; i++ {
		if _, ok := tr.Disconnect("c1"); ok {
			t.Fatal("repeated disconnect must be a no-op")
		}
	}
	if got := tr.Users(5); len(got) != 1 || got[0] != 2 {
		t.Errorf("roster = %v, want [2]", got)
	}
	if _, ok := tr.Disconnect("never-seen"); ok {
		t.Error("unknown handle must be a no-op")
	}
}

func TestTrackerResubscribeSameChannel(t *testing.T) {
	tr := NewTracker()
	tr.Subscribe("c1", 1, 5)
	again, left := tr.Subscribe("c1", 1, 5)
	if left != nil || again.Changed || again.Online != 1 {
		t.Fatalf("resubscribe should be a no-op: %+v %+v", again, left)
	}
}

// TestTrackerMovesConnectionBetweenChannels verifies the previous channel is
// released when a connection subscribes elsewhere.
func TestTrackerMovesConnectionBetweenChannels(t *testing.T) {
	tr := NewTracker()
	tr.Subscribe("c1", 1, 5)

	joined, left := tr.Subscribe("c1", 1, 7)
	if left == nil || left.Channel != 5 || left.Online != 0 || !left.Changed {
		t.Fatalf("unexpected left change: %+v", left)
	}
	if joined.Channel != 7 || joined.Online != 1 {
		t.Fatalf("unexpected join change: %+v", joined)
	}
	if tr.IsOnline(5, 1) {
		t.Error("user should have left channel 5")
	}
	if ch, _ := tr.ChannelOf("c1"); ch != 7 {
		t.Errorf("ChannelOf = %d, want 7", ch)
	}
}

func TestTrackerUsersSorted(t *testing.T) {
	tr := NewTracker()
	tr.Subscribe("a", 9, 5)
	tr.Subscribe("b", 3, 5)
	tr.Subscribe("c", 6, 5)

	got := tr.Users(5)
	want := []chat.UserID{3, 6, 9}
	if len(got) != len(want) {
		t.Fatalf("Users = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Users = %v, want %v", got, want)
		}
	}
	if n := len(tr.Users(42)); n != 0 {
		t.Errorf("empty channel returned %d users", n)
	}
}

// TestTrackerConcurrentChurn hammers the tracker from many goroutines and
// checks it ends empty and consistent.
func TestTrackerConcurrentChurn(t *testing.T) {
	tr := NewTracker()
	const workers = 50
	const rounds = 40

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			user := chat.UserID(w % 10)
			for r := 0; r < rounds; r++ {
				h := chat.ConnectionHandle(fmt.Sprintf("conn-%d-%d", w, r))
				tr.Subscribe(h, user, chat.ChannelID(r%3+1))
				tr.Disconnect(h)
				tr.Disconnect(h)
			}
		}(w)
	}
	wg.Wait()

	for ch := chat.ChannelID(1); ch <= 3; ch++ {
		if n := tr.Online(ch); n != 0 {
			t.Errorf("channel %d still has %d users online", ch, n)
		}
	}
}
