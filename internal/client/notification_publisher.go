package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes commission and debt events to NATS for the
// console's notification feed and reporting consumers.
//
// Subject convention: <prefix>.commissions.<event_type> and
// <prefix>.debts.<event_type>.
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so a broker outage never fails a commission operation.
type NotificationPublisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id,omitempty"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// ConnectNATS dials the broker with unlimited reconnects.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats: reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// NewNotificationPublisher creates a publisher on the given connection. A nil
// connection yields a publisher that drops every event.
func NewNotificationPublisher(nc *nats.Conn, prefix string, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, prefix: prefix, log: log}
}

// PublishCommissionEvent publishes a commission lifecycle event.
func (p *NotificationPublisher) PublishCommissionEvent(ctx context.Context, eventType, commissionID, actorID string, payload map[string]interface{}) {
	p.publish(ctx, "commissions", eventType, commissionID, actorID, payload)
}

// PublishDebtEvent publishes a debt event (deducted, payment recorded, paid).
func (p *NotificationPublisher) PublishDebtEvent(ctx context.Context, eventType, debtID, actorID string, payload map[string]interface{}) {
	p.publish(ctx, "debts", eventType, debtID, actorID, payload)
}

func (p *NotificationPublisher) publish(ctx context.Context, resourceType, eventType, resourceID, actorID string, payload map[string]interface{}) {
	if p == nil || p.nc == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OccurredAt:   time.Now().UTC(),
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", p.prefix, resourceType, eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", resourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", resourceID).
		Msg("notification: event published")
}

// Close drains pending messages and closes the connection.
func (p *NotificationPublisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("nats: drain failed")
	}
}
