// Package emit publishes anomaly events to the outbound topic with the
// vehicle ID as ordering key. The contract is at-most-once per frame
// per rule within the process: a publish failure is logged at warning
// and the anomaly is dropped, never retried into a duplicate.
package emit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/fleetgrid/backend/internal/bus"
	"github.com/fleetgrid/backend/internal/circuitbreaker"
	"github.com/fleetgrid/backend/internal/metrics"
	"github.com/fleetgrid/backend/internal/telemetry"
)

// Publisher writes anomalies to the bus. Safe for concurrent use.
type Publisher struct {
	client  *bus.Client
	topicID string
	timeout time.Duration
	breaker *circuitbreaker.Breaker
	met     *metrics.Metrics
	log     *slog.Logger

	mu    sync.Mutex
	topic *pubsub.Topic // nil until first use or after a failure reset

	emitted atomic.Int64
}

// NewPublisher creates a publisher for the given topic. The topic is
// initialized lazily so a broker outage at startup does not block the
// detector.
func NewPublisher(client *bus.Client, topicID string, timeout time.Duration, met *metrics.Metrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:  client,
		topicID: topicID,
		timeout: timeout,
		breaker: circuitbreaker.New(circuitbreaker.PublishConfig("emit"), logger),
		met:     met,
		log:     logger,
	}
}

// buildMessage serializes the anomaly into a bus message keyed by
// vehicle ID, which preserves per-vehicle anomaly order downstream.
func buildMessage(a *telemetry.Anomaly) (*pubsub.Message, error) {
	payload, err := telemetry.EncodeAnomaly(a)
	if err != nil {
		return nil, fmt.Errorf("encode anomaly %s: %w", a.AnomalyID, err)
	}
	return &pubsub.Message{
		Data:        payload,
		OrderingKey: a.VehicleID,
		Attributes: map[string]string{
			"rule":     a.RuleName,
			"severity": string(a.Severity),
		},
	}, nil
}

// Publish sends one anomaly. Failures are warn-and-drop: detection must
// keep running whatever the outbound bus does.
func (p *Publisher) Publish(ctx context.Context, a *telemetry.Anomaly) {
	msg, err := buildMessage(a)
	if err != nil {
		p.met.RecordPublishFailure()
		p.log.Warn("dropping unencodable anomaly", "anomaly_id", a.AnomalyID, "error", err)
		return
	}

	err = p.breaker.Execute(func() error {
		return p.publishOnce(ctx, msg, a.VehicleID)
	})
	if err != nil {
		p.met.RecordPublishFailure()
		p.log.Warn("dropping anomaly after publish failure",
			"anomaly_id", a.AnomalyID,
			"vehicle_id", a.VehicleID,
			"rule", a.RuleName,
			"error", err,
		)
		return
	}

	p.emitted.Add(1)
	p.log.Debug("published anomaly",
		"anomaly_id", a.AnomalyID,
		"vehicle_id", a.VehicleID,
		"rule", a.RuleName,
		"severity", a.Severity,
	)
}

func (p *Publisher) publishOnce(ctx context.Context, msg *pubsub.Message, orderingKey string) error {
	topic, err := p.ensureTopic(ctx)
	if err != nil {
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = topic.Publish(pctx, msg).Get(pctx)
	if err != nil {
		// Pub/Sub pauses an ordering key after a failed publish; the
		// topic handle is torn down so the next call starts clean.
		topic.ResumePublish(orderingKey)
		p.resetTopic()
		return fmt.Errorf("publish to %s: %w", p.topicID, err)
	}
	return nil
}

func (p *Publisher) ensureTopic(ctx context.Context) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	topic, err := p.client.EnsureTopic(ctx, p.topicID)
	if err != nil {
		return nil, err
	}
	p.topic = topic
	return topic, nil
}

func (p *Publisher) resetTopic() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		p.topic.Stop()
		p.topic = nil
	}
}

// Emitted returns how many anomalies were published since start.
func (p *Publisher) Emitted() int64 {
	return p.emitted.Load()
}

// Flush blocks until buffered messages are sent. Called on shutdown.
func (p *Publisher) Flush() {
	p.mu.Lock()
	topic := p.topic
	p.mu.Unlock()
	if topic != nil {
		topic.Flush()
	}
}

// Close flushes and releases the topic.
func (p *Publisher) Close() {
	p.Flush()
	p.resetTopic()
}
