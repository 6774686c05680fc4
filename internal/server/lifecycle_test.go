package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/travelchat/internal/chat"
	"github.com/Tyrowin/travelchat/internal/stomp"
)

func TestOversizedFrameClosesConnection(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Server.MaxMessageSize = 512 })
	online := chat.OnlineTopic(h.group)

	alice := h.connect(h.alice)
	alice.subscribe("0", h.groupTopic())
	alice.subscribe("1", online)
	alice.awaitMessage(online, equals("1"))

	bob := h.connect(h.bob)
	bob.subscribe("0", h.groupTopic())
	alice.awaitMessage(online, equals("2"))

	big := stomp.New(stomp.CmdSend, stomp.HdrDestination, "/app/groups/"+strconv.FormatInt(int64(h.group), 10)+"/chat")
	big.Body = []byte(`{"type":"CHAT","content":"` + strings.Repeat("x", 1024) + `"}`)
	bob.send(big)
	bob.expectClosed()

	alice.awaitMessage(online, equals("1"))
}

func TestRateLimitDiscardsExcessSends(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Server.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})
	bob := h.connect(h.bob)
	dest := "/app/groups/" + strconv.FormatInt(int64(h.group), 10) + "/chat"

	for i := 0; i < 4; i++ {
		bob.sendJSON(dest, map[string]string{"type": "TYPING"}, "r"+strconv.Itoa(i))
	}
	bob.send(stomp.New(stomp.CmdDisconnect, stomp.HdrReceipt, "bye"))

	var receipts []string
	for {
		f := bob.next()
		if f.Command != stomp.CmdReceipt {
			continue
		}
		id := f.Get(stomp.HdrReceiptID)
		if id == "bye" {
			break
		}
		receipts = append(receipts, id)
	}
	if strings.Join(receipts, ",") != "r0,r1" {
		t.Errorf("receipts = %v, want [r0 r1]", receipts)
	}
}

func TestMultipleDevicesKeepUserOnline(t *testing.T) {
	h := newHarness(t)
	online := chat.OnlineTopic(h.group)

	alice := h.connect(h.alice)
	alice.subscribe("0", h.groupTopic())
	alice.subscribe("1", online)
	alice.awaitMessage(online, equals("1"))

	phone := h.connect(h.bob)
	phone.subscribe("0", h.groupTopic())
	laptop := h.connect(h.bob)
	laptop.subscribe("0", h.groupTopic())

	if n := h.srv.presence.Online(h.group); n != 2 {
		t.Fatalf("Online = %d, want 2", n)
	}

	phone.send(stomp.New(stomp.CmdDisconnect, stomp.HdrReceipt, "bye"))
	phone.awaitReceipt("bye")
	phone.expectClosed()
	if n := h.srv.presence.Online(h.group); n != 2 {
		t.Errorf("after closing one device Online = %d, want 2", n)
	}

	_ = laptop.ws.Close()
	alice.awaitMessage(online, equals("1"))
}

func TestGracefulShutdownWithClients(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(h.alice)
	alice.subscribe("0", h.groupTopic())
	bob := h.connect(h.bob)
	bob.subscribe("0", h.groupTopic())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for _, c := range []*stompConn{alice, bob} {
		if f := c.awaitError(); f.Get(stomp.HdrMessage) != "server shutting down" {
			t.Errorf("message = %q", f.Get(stomp.HdrMessage))
		}
		c.expectClosed()
	}

	if n := h.srv.Hub().ClientCount(); n != 0 {
		t.Errorf("ClientCount = %d, want 0", n)
	}
	if n := h.srv.presence.Online(h.group); n != 0 {
		t.Errorf("Online = %d, want 0", n)
	}

	header := http.Header{}
	header.Set("Origin", testOrigin)
	if ws, _, err := websocket.DefaultDialer.Dial(h.wsURL(), header); err == nil {
		// The upgrade may still succeed on the test listener; the hub refuses
		// the client and the socket closes straight away.
		c := &stompConn{t: t, ws: ws}
		c.expectClosed()
	}
}

func TestWebSocketHandlerGETWithoutUpgrade(t *testing.T) {
	h := newHarness(t)
	resp := h.request(http.MethodGet, "/ws", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateServer(t *testing.T) {
	srv := CreateServer(":9999", http.NotFoundHandler())
	if srv.Addr != ":9999" {
		t.Errorf("Addr = %q", srv.Addr)
	}
	if srv.ReadTimeout != 15*time.Second || srv.WriteTimeout != 15*time.Second || srv.IdleTimeout != 60*time.Second {
		t.Errorf("unexpected timeouts read=%s write=%s idle=%s", srv.ReadTimeout, srv.WriteTimeout, srv.IdleTimeout)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Error("ReadHeaderTimeout should be set")
	}
}
