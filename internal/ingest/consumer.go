// Package ingest consumes the raw_telemetry topic and delivers clean,
// deduplicated, per-vehicle-ordered frames to the detection core.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/fleetgrid/backend/internal/bus"
	"github.com/fleetgrid/backend/internal/metrics"
	"github.com/fleetgrid/backend/internal/telemetry"
)

// Handler processes one validated frame. A returned error means the
// core could not take the frame; the message is redelivered by the bus.
type Handler func(ctx context.Context, frame *telemetry.Frame) error

// disposition classifies what happened to one inbound message.
type disposition int

const (
	dispAccepted disposition = iota
	dispDecodeError
	dispDuplicate
	dispOrderingDrop
	dispHandlerError
)

// Consumer pulls frames off the bus. Decode failures and duplicates are
// dropped without stopping consumption; handler errors cause
// redelivery, which is the back-pressure mechanism: the subscriber
// stops taking new messages while outstanding ones are unacked.
type Consumer struct {
	sub     *pubsub.Subscription
	handler Handler
	dedup   *Dedup
	guard   *OrderGuard
	met     *metrics.Metrics
	log     *slog.Logger
	backoff *bus.Backoff

	// lastEventTime is UnixNano of the newest accepted frame's
	// event_time; atomic because the health endpoint reads it from
	// another goroutine.
	lastEventTime atomic.Int64
}

// NewConsumer builds a consumer over an existing subscription. The
// subscription must have message ordering enabled.
func NewConsumer(sub *pubsub.Subscription, handler Handler, dedupCapacity int, met *metrics.Metrics, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dedup, err := NewDedup(dedupCapacity)
	if err != nil {
		return nil, err
	}

	// One frame at a time per consumer: the core is partitioned by
	// vehicle_id and must see frames in order, and bounded outstanding
	// messages is what halts consumption when the core lags.
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.Synchronous = true

	return &Consumer{
		sub:     sub,
		handler: handler,
		dedup:   dedup,
		guard:   NewOrderGuard(),
		met:     met,
		log:     logger,
		backoff: bus.DefaultBackoff(),
	}, nil
}

// Run consumes until ctx is cancelled. Transport faults trigger
// reconnection with exponential backoff; they never propagate to the
// detection logic.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
			switch c.handleMessage(msgCtx, msg.Data) {
			case dispHandlerError:
				msg.Nack()
			default:
				// Drops are final: redelivering a bad or duplicate
				// message cannot improve the outcome.
				msg.Ack()
			}
		})

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Receive returned without error and without cancellation;
			// treat as a transient stream end and reconnect.
			err = errors.New("receive stream ended")
		}

		c.log.Warn("bus receive failed, backing off",
			"error", err,
			"attempt", c.backoff.Attempt()+1,
		)
		if werr := c.backoff.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// handleMessage decodes, deduplicates, order-checks, and hands the
// frame to the core.
func (c *Consumer) handleMessage(ctx context.Context, data []byte) disposition {
	frame, err := telemetry.DecodeFrame(data)
	if err != nil {
		c.met.RecordDecodeError()
		c.log.Warn("skipping undecodable message", "error", err)
		return dispDecodeError
	}

	if c.dedup.Seen(frame.EventID) {
		c.met.RecordDedupDrop()
		return dispDuplicate
	}

	if !c.guard.Admit(frame) {
		c.met.RecordOrderingDrop()
		c.log.Warn("dropping out-of-order frame",
			"vehicle_id", frame.VehicleID,
			"scene_id", frame.SceneID,
			"frame_index", frame.FrameIndex,
		)
		return dispOrderingDrop
	}

	if err := c.handler(ctx, frame); err != nil {
		c.log.Warn("core rejected frame, will redeliver",
			"vehicle_id", frame.VehicleID,
			"frame_index", frame.FrameIndex,
			"error", err,
		)
		return dispHandlerError
	}

	c.lastEventTime.Store(frame.EventTime.UnixNano())
	c.met.RecordFrame(time.Since(frame.EventTime).Seconds())
	c.backoff.Reset()
	return dispAccepted
}

// LastEventTime reports the event time of the newest accepted frame,
// zero before the first one. Read by the health endpoint.
func (c *Consumer) LastEventTime() time.Time {
	ns := c.lastEventTime.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
