// Package bus publishes alert events to NATS.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/alerting"
)

// DefaultSubject is where fired alerts are published.
const DefaultSubject = "opsboard.alerts.fired"

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
	Drain() error
	Close()
}

// Publisher publishes JSON payloads to NATS.
type Publisher struct {
	Conn    Conn
	Subject string
	logger  *zap.Logger
}

// NewPublisher connects to url. Reconnects are handled by the client.
func NewPublisher(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "nats_publisher"))
	conn, err := nats.Connect(url,
		nats.Name("opsboard-analytics"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewPublisherWithConn(conn, subject, logger), nil
}

// NewPublisherWithConn wraps an existing connection.
func NewPublisherWithConn(conn Conn, subject string, logger *zap.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{Conn: conn, Subject: subject, logger: logger}
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.Conn != nil {
		_ = p.Conn.Drain()
		p.Conn.Close()
	}
}

// Publish marshals payload to JSON and publishes it on subject.
func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// AlertEvent is the message published for each firing.
type AlertEvent struct {
	NotificationID string            `json:"notification_id"`
	AlertID        string            `json:"alert_id"`
	Severity       alerting.Severity `json:"severity"`
	Message        string            `json:"message"`
	MetricValue    float64           `json:"metric_value"`
	TriggeredAt    time.Time         `json:"triggered_at"`
}

// AlertListener returns an alerting listener that publishes every firing.
// Publish failures are logged; they never affect alert evaluation.
func (p *Publisher) AlertListener() alerting.Listener {
	return func(n alerting.Notification) {
		evt := AlertEvent{
			NotificationID: n.ID,
			AlertID:        n.AlertID,
			Severity:       n.Severity,
			Message:        n.Message,
			MetricValue:    n.MetricValue,
			TriggeredAt:    n.TriggeredAt,
		}
		if err := p.Publish(p.Subject, evt); err != nil {
			p.logger.Warn("failed to publish alert event", zap.String("alert_id", n.AlertID), zap.Error(err))
		}
	}
}
