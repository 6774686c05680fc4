package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Tyrowin/travelchat/internal/chat"

// Dispatcher handles inbound application messages addressed to a channel.
// Every operation authorizes first and touches neither the store nor the
// publisher when authorization fails.
type Dispatcher struct {
	members   MembershipOracle
	messages  MessageStore
	publisher Publisher
	logger    *slog.Logger
	recorder  Recorder
	tracer    trace.Tracer
	now       func() time.Time
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder reports dispatch outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithClock overrides the time source used for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher wires a Dispatcher to its collaborators.
func NewDispatcher(members MembershipOracle, messages MessageStore, publisher Publisher, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		members:   members,
		messages:  messages,
		publisher: publisher,
		logger:    logger.With("component", "dispatcher"),
		recorder:  nopRecorder{},
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendChat handles a SEND to /app/groups/{channel}/chat.
//
// TYPING envelopes are broadcast and never persisted. CHAT content is
// trimmed; blank content is dropped silently. Anything else is persisted and
// the stored result is broadcast to the channel topic.
func (d *Dispatcher) SendChat(ctx context.Context, p *Principal, channel ChannelID, in Envelope) error {
	ctx, span := d.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.Int64("chat.channel_id", int64(channel)),
		attribute.String("chat.kind", in.Kind.String()),
	))
	defer span.End()

	if err := d.requireMember(ctx, p, channel); err != nil {
		return d.fail(span, "send", err)
	}

	switch in.Kind {
	case KindTyping:
		d.broadcastTyping(p, channel)
		return nil
	case KindChat:
		return d.fail(span, "send", d.sendChat(ctx, p, channel, in.Content))
	case KindPresence, KindDelete, KindDeleteAll:
		return d.fail(span, "send", fmt.Errorf("%w: %s", ErrUnsupportedKind, in.Kind))
	default:
		return d.fail(span, "send", fmt.Errorf("%w: %s", ErrUnsupportedKind, in.Kind))
	}
}

func (d *Dispatcher) broadcastTyping(p *Principal, channel ChannelID) {
	ts := d.now().UTC()
	d.publisher.Publish(ChannelTopic(channel), Envelope{
		ChannelID:  channel,
		SenderID:   p.UserID,
		SenderName: p.DisplayName,
		Content:    "",
		Timestamp:  &ts,
		Kind:       KindTyping,
	})
	d.recorder.EnvelopeDispatched(KindTyping)
}

func (d *Dispatcher) sendChat(ctx context.Context, p *Principal, channel ChannelID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		d.logger.Debug("dropping blank chat message", "channel_id", channel, "user_id", p.UserID)
		return nil
	}

	stored, err := d.messages.PersistMessage(ctx, channel, *p, content, d.now())
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	d.publisher.Publish(ChannelTopic(channel), EnvelopeFromStored(stored))
	d.recorder.EnvelopeDispatched(KindChat)
	d.logger.Debug("chat message dispatched", "channel_id", channel, "message_id", stored.ID, "user_id", p.UserID)
	return nil
}

// EchoPresence handles a SEND to /app/groups/{channel}/presence. The body is
// broadcast to the channel's presence topic without being decoded; an empty
// body is sent as an empty object.
func (d *Dispatcher) EchoPresence(ctx context.Context, p *Principal, channel ChannelID, body json.RawMessage) error {
	ctx, span := d.tracer.Start(ctx, "chat.presence", trace.WithAttributes(
		attribute.Int64("chat.channel_id", int64(channel)),
	))
	defer span.End()

	if err := d.requireMember(ctx, p, channel); err != nil {
		return d.fail(span, "presence", err)
	}

	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	d.publisher.Publish(PresenceTopic(channel), body)
	d.recorder.EnvelopeDispatched(KindPresence)
	return nil
}

// DeleteMessage removes one message. The caller must be an admin of channel
// and the message must belong to channel.
func (d *Dispatcher) DeleteMessage(ctx context.Context, p *Principal, channel ChannelID, id MessageID) error {
	ctx, span := d.tracer.Start(ctx, "chat.delete", trace.WithAttributes(
		attribute.Int64("chat.channel_id", int64(channel)),
		attribute.Int64("chat.message_id", int64(id)),
	))
	defer span.End()

	if err := d.requireAdmin(ctx, p, channel); err != nil {
		return d.fail(span, "delete", err)
	}

	msg, err := d.messages.Message(ctx, id)
	if err != nil {
		return d.fail(span, "delete", fmt.Errorf("load message %d: %w", id, err))
	}
	if msg.ChannelID != channel {
		return d.fail(span, "delete", ErrWrongChannel)
	}

	if err := d.messages.DeleteMessage(ctx, id); err != nil {
		return d.fail(span, "delete", fmt.Errorf("delete message %d: %w", id, err))
	}

	d.publisher.Publish(ChannelTopic(channel), Envelope{ID: id, ChannelID: channel, Kind: KindDelete})
	d.recorder.EnvelopeDispatched(KindDelete)
	d.logger.Info("message deleted", "channel_id", channel, "message_id", id, "user_id", p.UserID)
	return nil
}

// DeleteAll removes every message of channel. The caller must be an admin.
func (d *Dispatcher) DeleteAll(ctx context.Context, p *Principal, channel ChannelID) error {
	ctx, span := d.tracer.Start(ctx, "chat.delete_all", trace.WithAttributes(
		attribute.Int64("chat.channel_id", int64(channel)),
	))
	defer span.End()

	if err := d.requireAdmin(ctx, p, channel); err != nil {
		return d.fail(span, "delete_all", err)
	}

	n, err := d.messages.DeleteChannelMessages(ctx, channel)
	if err != nil {
		return d.fail(span, "delete_all", fmt.Errorf("delete channel messages: %w", err))
	}

	d.publisher.Publish(ChannelTopic(channel), Envelope{ChannelID: channel, Kind: KindDeleteAll})
	d.recorder.EnvelopeDispatched(KindDeleteAll)
	d.logger.Info("channel history cleared", "channel_id", channel, "deleted", n, "user_id", p.UserID)
	return nil
}

// History returns the channel's stored messages, oldest first, as CHAT
// envelopes. Only members may read it.
func (d *Dispatcher) History(ctx context.Context, p *Principal, channel ChannelID) ([]Envelope, error) {
	ctx, span := d.tracer.Start(ctx, "chat.history", trace.WithAttributes(
		attribute.Int64("chat.channel_id", int64(channel)),
	))
	defer span.End()

	if err := d.requireMember(ctx, p, channel); err != nil {
		return nil, d.fail(span, "history", err)
	}

	msgs, err := d.messages.ListMessages(ctx, channel)
	if err != nil {
		return nil, d.fail(span, "history", fmt.Errorf("list messages: %w", err))
	}
	out := make([]Envelope, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, EnvelopeFromStored(m))
	}
	return out, nil
}

// Authorize reports whether p may observe channel. It backs subscription
// checks in the gateway.
func (d *Dispatcher) Authorize(ctx context.Context, p *Principal, channel ChannelID) error {
	return d.requireMember(ctx, p, channel)
}

func (d *Dispatcher) requireMember(ctx context.Context, p *Principal, channel ChannelID) error {
	if p == nil {
		return ErrUnauthenticated
	}
	ok, err := d.members.IsMember(ctx, channel, p.UserID)
	if err != nil {
		return fmt.Errorf("membership lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: not a member of group %d", ErrAccessDenied, channel)
	}
	return nil
}

func (d *Dispatcher) requireAdmin(ctx context.Context, p *Principal, channel ChannelID) error {
	if p == nil {
		return ErrUnauthenticated
	}
	role, err := d.members.RoleOf(ctx, channel, p.UserID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: not a member of group %d", ErrAccessDenied, channel)
	}
	if err != nil {
		return fmt.Errorf("membership lookup: %w", err)
	}
	if role != RoleAdmin {
		return fmt.Errorf("%w: only admins can delete messages", ErrAccessDenied)
	}
	return nil
}

func (d *Dispatcher) fail(span trace.Span, op string, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.recorder.DispatchRejected(Reason(err))
	d.logger.Warn("dispatch rejected", "op", op, "error", err)
	return err
}

// Reason classifies err into a short label for metrics and error frames.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrWrongChannel):
		return "wrong_channel"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnsupportedKind):
		return "unsupported_kind"
	default:
		return "internal"
	}
}
