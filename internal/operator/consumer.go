package operator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/fleetgrid/backend/internal/bus"
	"github.com/fleetgrid/backend/internal/telemetry"
)

// Consumer pulls anomalies off the bus and feeds every operator-facing
// view: the in-memory aggregator, the Redis mirror, the Postgres
// archive, and the WebSocket hub. The aggregator and hub are required;
// mirror and archive may be nil.
type Consumer struct {
	sub     *pubsub.Subscription
	agg     *Aggregator
	hub     *Hub
	mirror  *Mirror
	archive *Archive
	log     *slog.Logger
	backoff *bus.Backoff

	received      atomic.Int64
	lastEventTime atomic.Int64
}

// NewConsumer builds the anomaly consumer. The subscription must have
// message ordering enabled so per-vehicle anomaly order survives.
func NewConsumer(sub *pubsub.Subscription, agg *Aggregator, hub *Hub, mirror *Mirror, archive *Archive, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	// Anomalies are orders of magnitude rarer than frames; a small
	// outstanding window keeps redelivery cheap without starving the
	// dashboard.
	sub.ReceiveSettings.MaxOutstandingMessages = 16

	return &Consumer{
		sub:     sub,
		agg:     agg,
		hub:     hub,
		mirror:  mirror,
		archive: archive,
		log:     logger,
		backoff: bus.DefaultBackoff(),
	}
}

// Run consumes until ctx is cancelled, reconnecting with backoff on
// transport faults.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
			c.handleMessage(msgCtx, msg.Data)
			// Bad payloads are final and good ones are folded into
			// idempotent sinks, so every message acks.
			msg.Ack()
		})

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("receive stream ended")
		}

		c.log.Warn("anomaly receive failed, backing off",
			"error", err,
			"attempt", c.backoff.Attempt()+1,
		)
		if werr := c.backoff.Wait(ctx); werr != nil {
			return werr
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, data []byte) {
	a, err := telemetry.DecodeAnomaly(data)
	if err != nil {
		c.log.Warn("skipping undecodable anomaly", "error", err)
		return
	}

	c.agg.Record(a)
	c.archive.Store(ctx, a)
	c.mirror.Store(ctx, a)
	c.hub.Broadcast(a)

	c.received.Add(1)
	c.lastEventTime.Store(a.EventTime.UnixNano())
	c.backoff.Reset()

	if a.Severity == telemetry.SeverityCritical {
		c.log.Info("critical anomaly",
			"vehicle_id", a.VehicleID,
			"rule", a.RuleName,
			"frame_index", a.FrameIndex,
		)
	}
}

// Received reports anomalies consumed since start.
func (c *Consumer) Received() int64 {
	return c.received.Load()
}

// LastEventTime reports the event time of the newest anomaly, zero
// before the first one.
func (c *Consumer) LastEventTime() time.Time {
	ns := c.lastEventTime.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
