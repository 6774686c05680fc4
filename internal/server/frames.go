package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/Tyrowin/travelchat/internal/auth"
	"github.com/Tyrowin/travelchat/internal/chat"
	"github.com/Tyrowin/travelchat/internal/stomp"
)

const (
	stompVersion = "1.2"
	serverName   = "travelchat"
)

// Destinations a client may subscribe to besides group topics.
var privateDestinationPrefixes = []string{"/queue/", "/user/queue/"}

func errorFrame(message, receiptID string) *stomp.Frame {
	f := stomp.New(stomp.CmdError,
		stomp.HdrMessage, message,
		stomp.HdrContentType, contentTypeText,
	)
	if receiptID != "" {
		f.Set(stomp.HdrReceiptID, receiptID)
	}
	return f
}

func (c *Client) sendError(message, detail, receiptID string) {
	f := errorFrame(message, receiptID)
	f.Body = []byte(detail)
	c.enqueue(f)
}

func (c *Client) sendReceipt(f *stomp.Frame) {
	if receipt := f.Get(stomp.HdrReceipt); receipt != "" {
		c.enqueue(stomp.New(stomp.CmdReceipt, stomp.HdrReceiptID, receipt))
	}
}

// handleFrame processes one inbound frame and reports whether the connection
// should stay open.
func (c *Client) handleFrame(f *stomp.Frame) bool {
	c.srv.metrics.FrameReceived(f.Command)
	receipt := f.Get(stomp.HdrReceipt)

	p, connected := c.Principal()
	if !connected {
		switch f.Command {
		case stomp.CmdConnect, stomp.CmdStomp:
			return c.handleConnect(f)
		case stomp.CmdDisconnect:
			c.sendReceipt(f)
			return false
		default:
			c.sendError("not connected", "CONNECT must be the first frame", receipt)
			return false
		}
	}

	switch f.Command {
	case stomp.CmdConnect, stomp.CmdStomp:
		c.sendError("already connected", "", receipt)
		return false
	case stomp.CmdSubscribe:
		c.handleSubscribe(f, p)
		return true
	case stomp.CmdUnsubscribe:
		return c.handleUnsubscribe(f)
	case stomp.CmdSend:
		c.handleSend(f, p)
		return true
	case stomp.CmdDisconnect:
		c.sendReceipt(f)
		return false
	case stomp.CmdAck, stomp.CmdNack, stomp.CmdBegin, stomp.CmdCommit, stomp.CmdAbort:
		c.sendError("unsupported frame", f.Command+" is not supported", receipt)
		return true
	default:
		c.sendError("unexpected frame", f.Command+" is a server frame", receipt)
		return false
	}
}

// handleConnect authenticates the connection. The CONNECT frame's
// Authorization header wins over the one sent with the upgrade request.
func (c *Client) handleConnect(f *stomp.Frame) bool {
	header := f.Get(stomp.HdrAuthorization)
	if header == "" {
		header = f.Get(strings.ToLower(stomp.HdrAuthorization))
	}
	if header == "" {
		header = c.upgradeAuth
	}

	p, err := c.srv.auth.Authenticate(c.ctx, c.id, header)
	if err != nil {
		c.srv.metrics.ConnectionRejected()
		c.logger.Info("connection rejected", "error", err)
		c.sendError(errorMessage(err), "", f.Get(stomp.HdrReceipt))
		return false
	}

	c.principal.Store(&p)
	c.srv.metrics.ConnectionOpened()
	if !c.hub.isActive(c) {
		c.release()
		return false
	}

	c.enqueue(stomp.New(stomp.CmdConnected,
		stomp.HdrVersion, stompVersion,
		stomp.HdrHeartBeat, "0,0",
		stomp.HdrUserName, strconv.FormatInt(int64(p.UserID), 10),
		"server", serverName,
	))
	c.sendReceipt(f)
	c.logger.Info("client connected", "user_id", p.UserID, "display_name", p.DisplayName)
	return true
}

func (c *Client) handleSubscribe(f *stomp.Frame, p chat.Principal) {
	dest, id := f.Get(stomp.HdrDestination), f.Get(stomp.HdrID)
	receipt := f.Get(stomp.HdrReceipt)
	if dest == "" || id == "" {
		c.sendError("invalid subscription", "SUBSCRIBE requires destination and id", receipt)
		return
	}

	if strings.HasPrefix(dest, "/topic/") {
		channel, ok := chat.ChannelFromTopic(dest)
		if !ok {
			c.sendError("unknown destination", dest, receipt)
			return
		}
		if err := c.srv.dispatcher.Authorize(c.ctx, &p, channel); err != nil {
			c.logger.Info("subscription refused", "destination", dest, "error", err)
			c.sendError(errorMessage(err), dest, receipt)
			return
		}

		c.addSubscription(id, dest)
		c.srv.presence.Subscribed(c.id, p, dest)
		if !c.hub.isActive(c) {
			c.srv.presence.Disconnected(c.id, p)
			return
		}
		c.sendReceipt(f)
		return
	}

	if !isPrivateDestination(dest) {
		c.sendError("unknown destination", dest, receipt)
		return
	}
	c.addSubscription(id, dest)
	c.sendReceipt(f)
}

func isPrivateDestination(dest string) bool {
	for _, prefix := range privateDestinationPrefixes {
		if strings.HasPrefix(dest, prefix) && len(dest) > len(prefix) {
			return true
		}
	}
	return false
}

func (c *Client) handleUnsubscribe(f *stomp.Frame) bool {
	id := f.Get(stomp.HdrID)
	if id == "" {
		c.sendError("invalid unsubscribe", "UNSUBSCRIBE requires id", f.Get(stomp.HdrReceipt))
		return false
	}
	c.removeSubscription(id)
	c.sendReceipt(f)
	return true
}

// handleSend routes an application SEND. Failures are reported with an ERROR
// frame and the connection stays open.
func (c *Client) handleSend(f *stomp.Frame, p chat.Principal) {
	receipt := f.Get(stomp.HdrReceipt)
	if !c.rateLimiter.allow() {
		c.logger.Warn("rate limit exceeded; discarding frame",
			"burst", c.rateLimit.Burst,
			"refill_interval", c.rateLimit.RefillInterval)
		return
	}

	dest := f.Get(stomp.HdrDestination)
	channel, route := chat.ParseAppDestination(dest)
	if route == chat.RouteUnknown {
		c.sendError("unknown destination", dest, receipt)
		return
	}

	body := bytes.TrimSpace(f.Body)
	var err error
	switch route {
	case chat.RouteChat:
		var env chat.Envelope
		if len(body) > 0 {
			if jerr := json.Unmarshal(body, &env); jerr != nil {
				c.logger.Info("invalid envelope", "destination", dest, "error", jerr)
				c.sendError("invalid message payload", jerr.Error(), receipt)
				return
			}
		}
		err = c.srv.dispatcher.SendChat(c.ctx, &p, channel, env)
	case chat.RoutePresence:
		if len(body) > 0 && !json.Valid(body) {
			c.logger.Info("invalid presence payload", "destination", dest)
			c.sendError("invalid message payload", "body is not valid JSON", receipt)
			return
		}
		err = c.srv.dispatcher.EchoPresence(c.ctx, &p, channel, json.RawMessage(body))
	}
	if err != nil {
		c.sendError(errorMessage(err), dest, receipt)
		return
	}
	c.sendReceipt(f)
}

// errorMessage renders err as the short text of an ERROR frame's message
// header.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingAuthorization):
		return "missing authorization"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrAuthDisabled):
		return "invalid token"
	case errors.Is(err, auth.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, chat.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, chat.ErrAccessDenied):
		return "access denied"
	case errors.Is(err, chat.ErrWrongChannel):
		return "wrong group"
	case errors.Is(err, chat.ErrNotFound):
		return "not found"
	case errors.Is(err, chat.ErrUnsupportedKind):
		return "unsupported message type"
	default:
		return "internal error"
	}
}
