// Package notify tells stream participants about ledger changes. Delivery is
// advisory: nothing in the ledger waits on or depends on a notification.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/streampay/internal/ir"
)

// Notifier delivers participant-facing notices.
type Notifier interface {
	StreamCreated(ctx context.Context, n Created) error
	StreamClaimed(ctx context.Context, n Claimed) error
	StreamCancelled(ctx context.Context, n Cancelled) error
	IdentityRebound(ctx context.Context, n Rebound) error
}

// Created announces a new stream to its recipient.
type Created struct {
	StreamID  int64
	Sender    ir.Address
	Recipient ir.Address
	Channel   string // "wallet", "email" or "social:<kind>"
	Amount    ir.Amount
	EndTime   int64
	Message   string
}

// Claimed reports a payout.
type Claimed struct {
	StreamID  int64
	Recipient ir.Address
	Amount    ir.Amount
	Status    ir.Status
}

// Cancelled reports the final split of a cancelled stream.
type Cancelled struct {
	StreamID    int64
	Sender      ir.Address
	Recipient   ir.Address
	ToRecipient ir.Amount
	ToSender    ir.Amount
}

// Rebound reports an identity moving to its owner's wallet.
type Rebound struct {
	IdentityHash ir.IdentityHash
	OldAddress   ir.Address
	NewAddress   ir.Address
	Streams      []int64
}

// LogNotifier writes every notice as a structured log record.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier; a nil logger means slog.Default().
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{logger: l}
}

func (l *LogNotifier) StreamCreated(ctx context.Context, n Created) error {
	l.logger.InfoContext(ctx, "notify stream created",
		"stream_id", n.StreamID,
		"channel", n.Channel,
		"to", n.Recipient.String(),
		"from", n.Sender.String(),
		"amount", n.Amount.String(),
		"ends_at", n.EndTime,
		"message", n.Message)
	return nil
}

func (l *LogNotifier) StreamClaimed(ctx context.Context, n Claimed) error {
	l.logger.InfoContext(ctx, "notify stream claimed",
		"stream_id", n.StreamID,
		"to", n.Recipient.String(),
		"amount", n.Amount.String(),
		"status", string(n.Status))
	return nil
}

func (l *LogNotifier) StreamCancelled(ctx context.Context, n Cancelled) error {
	l.logger.InfoContext(ctx, "notify stream cancelled",
		"stream_id", n.StreamID,
		"recipient", n.Recipient.String(),
		"sender", n.Sender.String(),
		"to_recipient", n.ToRecipient.String(),
		"to_sender", n.ToSender.String())
	return nil
}

func (l *LogNotifier) IdentityRebound(ctx context.Context, n Rebound) error {
	l.logger.InfoContext(ctx, "notify identity rebound",
		"identity_hash", n.IdentityHash.String(),
		"old_address", n.OldAddress.String(),
		"new_address", n.NewAddress.String(),
		"streams", len(n.Streams))
	return nil
}

// Sink adapts a Notifier to the event dispatcher. Events with no notice
// (funding, initialization) are ignored.
type Sink struct {
	N Notifier
}

// Name implements dispatch.Sink.
func (Sink) Name() string { return "notify" }

// Handle implements dispatch.Sink.
func (s Sink) Handle(ctx context.Context, ev ir.Event) error {
	switch ev.Kind {
	case ir.EventStreamCreated:
		amount, err := amountAttr(ev, "total_amount")
		if err != nil {
			return err
		}
		end, _ := strconv.ParseInt(ev.Attr("end_time"), 10, 64)
		return s.N.StreamCreated(ctx, Created{
			StreamID:  ev.StreamID,
			Sender:    ir.Address(ev.Attr("sender")),
			Recipient: ir.Address(ev.Attr("recipient")),
			Channel:   ev.Attr("channel"),
			Amount:    amount,
			EndTime:   end,
			Message:   ev.Attr("message"),
		})

	case ir.EventStreamClaimed:
		amount, err := amountAttr(ev, "amount")
		if err != nil {
			return err
		}
		return s.N.StreamClaimed(ctx, Claimed{
			StreamID:  ev.StreamID,
			Recipient: ir.Address(ev.Attr("recipient")),
			Amount:    amount,
			Status:    ir.Status(ev.Attr("status")),
		})

	case ir.EventStreamCancelled:
		toRecipient, err := amountAttr(ev, "to_recipient")
		if err != nil {
			return err
		}
		toSender, err := amountAttr(ev, "to_sender")
		if err != nil {
			return err
		}
		return s.N.StreamCancelled(ctx, Cancelled{
			StreamID:    ev.StreamID,
			Sender:      ir.Address(ev.Attr("sender")),
			Recipient:   ir.Address(ev.Attr("recipient")),
			ToRecipient: toRecipient,
			ToSender:    toSender,
		})

	case ir.EventIdentityRebound:
		h, err := ir.ParseIdentityHash(ev.Attr("identity_hash"))
		if err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		var ids []int64
		for _, part := range strings.Split(ev.Attr("streams"), ",") {
			if id, err := strconv.ParseInt(part, 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		return s.N.IdentityRebound(ctx, Rebound{
			IdentityHash: h,
			OldAddress:   ir.Address(ev.Attr("old_address")),
			NewAddress:   ir.Address(ev.Attr("new_address")),
			Streams:      ids,
		})
	}
	return nil
}

func amountAttr(ev ir.Event, key string) (ir.Amount, error) {
	a, err := ir.ParseAmount(ev.Attr(key))
	if err != nil {
		return ir.Amount{}, fmt.Errorf("event %d attr %s: %w", ev.Seq, key, err)
	}
	return a, nil
}
