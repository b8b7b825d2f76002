package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-scm-fulfillment/internal/events"
	"github.com/pesio-ai/be-scm-fulfillment/internal/logger"
)

// NATSPublisher publishes order domain events to NATS for downstream
// consumers (notifications, read models, dashboards).
//
// Subject convention: <prefix>.<event_type>, e.g.
// scm.fulfillment.order.approved
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

// ConnectNATS dials url with reconnects enabled
func ConnectNATS(url, name string, log *logger.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NewNATSPublisher creates a publisher on an open connection
func NewNATSPublisher(conn *nats.Conn, subjectPrefix string, log *logger.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: subjectPrefix, log: log}
}

// Subject returns the subject an event type is published on
func (p *NATSPublisher) Subject(t events.Type) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

// Publish implements events.Publisher
func (p *NATSPublisher) Publish(ctx context.Context, ev events.Event) error {
	if p.conn == nil {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(ev.Type)
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Nats-Msg-Id", ev.EventID)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("order_id", ev.OrderID).
		Msg("event published to NATS")
	return nil
}

// Close drains the connection
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
