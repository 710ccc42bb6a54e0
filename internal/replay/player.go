package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/fleetgrid/backend/internal/bus"
	"github.com/fleetgrid/backend/internal/telemetry"
)

// Player replays a dataset onto the raw telemetry topic at a fixed
// rate. Each published frame gets a fresh event_id and an event_time
// rebased to wall clock with the dataset's relative timing preserved,
// so downstream time-delta features see the recorded dynamics.
type Player struct {
	client  *bus.Client
	topicID string
	dataset *Dataset
	rateHz  float64
	loop    bool
	log     *slog.Logger

	published atomic.Int64
}

// NewPlayer wires a player. rateHz must be positive.
func NewPlayer(client *bus.Client, topicID string, dataset *Dataset, rateHz float64, loop bool, logger *slog.Logger) (*Player, error) {
	if rateHz <= 0 {
		return nil, fmt.Errorf("replay rate must be positive, got %.2f", rateHz)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		client:  client,
		topicID: topicID,
		dataset: dataset,
		rateHz:  rateHz,
		loop:    loop,
		log:     logger,
	}, nil
}

// Published reports frames published since start.
func (p *Player) Published() int64 {
	return p.published.Load()
}

// Run replays the dataset until it is exhausted (or forever when
// looping) or ctx is cancelled.
func (p *Player) Run(ctx context.Context) error {
	topic, err := p.client.EnsureTopic(ctx, p.topicID)
	if err != nil {
		return err
	}
	defer topic.Stop()

	interval := time.Duration(float64(time.Second) / p.rateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pass := 0
	for {
		pass++
		if err := p.runPass(ctx, topic, ticker, pass); err != nil {
			return err
		}
		if !p.loop {
			p.log.Info("replay complete",
				"frames", p.published.Load(),
				"passes", pass,
			)
			return nil
		}
	}
}

func (p *Player) runPass(ctx context.Context, topic *pubsub.Topic, ticker *time.Ticker, pass int) error {
	// Rebase event times: frame 0 of each pass lands at pass start, and
	// subsequent frames keep their recorded offsets.
	offset := time.Now().Sub(p.dataset.Frames[0].EventTime)

	for _, recorded := range p.dataset.Frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame := *recorded
		frame.EventID = uuid.NewString()
		frame.EventTime = recorded.EventTime.Add(offset)
		frame.ProcessingTime = time.Now()
		if pass > 1 {
			// A new scene identity per pass keeps looped replays from
			// looking like frame_index regressions downstream.
			frame.SceneID = fmt.Sprintf("%s#%d", recorded.SceneID, pass)
		}

		if err := p.publish(ctx, topic, &frame); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) publish(ctx context.Context, topic *pubsub.Topic, frame *telemetry.Frame) error {
	data, err := telemetry.EncodeFrame(frame)
	if err != nil {
		return fmt.Errorf("encode frame %s: %w", frame.EventID, err)
	}

	res := topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: frame.VehicleID,
	})
	if _, err := res.Get(ctx); err != nil {
		// Keep the vehicle's key publishable and surface the fault; the
		// caller decides whether to abort the replay.
		topic.ResumePublish(frame.VehicleID)
		return fmt.Errorf("publish frame %s: %w", frame.EventID, err)
	}

	n := p.published.Add(1)
	if n%500 == 0 {
		p.log.Info("replay progress", "frames", n)
	}
	return nil
}
