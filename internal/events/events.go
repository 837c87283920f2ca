// Package events carries outbound domain events for downstream consumers
// (notifications, webhooks). Publishing never blocks the emitting operation
// and a publish failure never fails it either.
package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type EventType string

const (
	InvoiceSubmitted EventType = "invoice.submitted"
	InvoiceValidated EventType = "invoice.validated"
	InvoiceRejected  EventType = "invoice.rejected"
	InvoiceCancelled EventType = "invoice.cancelled"
)

type Event struct {
	Type       EventType      `json:"type"`
	BusinessID snowflake.ID   `json:"business_id"`
	InvoiceID  snowflake.ID   `json:"invoice_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Publisher hands events to whatever consumer is wired in. Implementations
// must not block and must not return delivery errors to the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

var Module = fx.Module("events",
	fx.Provide(NewChannelPublisher),
	fx.Provide(func(p *ChannelPublisher) Publisher { return p }),
)

// ChannelPublisher buffers events on a channel. When nothing drains the
// channel, or the buffer is full, events are dropped with a log line.
type ChannelPublisher struct {
	log *zap.Logger
	ch  chan Event
}

func NewChannelPublisher(log *zap.Logger) *ChannelPublisher {
	return &ChannelPublisher{
		log: log.Named("events"),
		ch:  make(chan Event, 256),
	}
}

func (p *ChannelPublisher) Publish(ctx context.Context, event Event) {
	_ = ctx
	select {
	case p.ch <- event:
		p.log.Debug("event published",
			zap.String("type", string(event.Type)),
			zap.String("invoice_id", event.InvoiceID.String()),
		)
	default:
		p.log.Warn("event buffer full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("invoice_id", event.InvoiceID.String()),
		)
	}
}

// Events exposes the outbound channel to a consumer.
func (p *ChannelPublisher) Events() <-chan Event {
	return p.ch
}
