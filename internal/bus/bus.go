// Package bus wraps the Cloud Pub/Sub client for the pipeline services.
// Pub/Sub with message ordering enabled is the partitioned log the
// design assumes: messages sharing an ordering key are delivered in
// publish order to one subscriber at a time. Ordering key = vehicle_id.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/iterator"
)

// Client owns the Pub/Sub connection for one service.
type Client struct {
	ps  *pubsub.Client
	log *slog.Logger
}

// NewClient connects to Pub/Sub for the given project.
func NewClient(ctx context.Context, projectID string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ps, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	logger.Info("connected to bus", "project", projectID)
	return &Client{ps: ps, log: logger}, nil
}

// Close shuts down the underlying client.
func (c *Client) Close() error {
	return c.ps.Close()
}

// EnsureTopic returns the topic, creating it if missing, with message
// ordering enabled so vehicle-keyed publishes stay ordered.
func (c *Client) EnsureTopic(ctx context.Context, topicID string) (*pubsub.Topic, error) {
	topic := c.ps.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("topic %s exists: %w", topicID, err)
	}
	if !exists {
		topic, err = c.ps.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("create topic %s: %w", topicID, err)
		}
		c.log.Info("created bus topic", "topic", topicID)
	}
	topic.EnableMessageOrdering = true
	return topic, nil
}

// EnsureSubscription returns the named subscription on the topic,
// creating it with ordering enabled if missing. The subscription name
// is the consumer-group identity: all workers sharing it split the
// ordering-key space between them.
func (c *Client) EnsureSubscription(ctx context.Context, topicID, subID string) (*pubsub.Subscription, error) {
	topic, err := c.EnsureTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	sub := c.ps.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscription %s exists: %w", subID, err)
	}
	if !exists {
		sub, err = c.ps.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:                 topic,
			AckDeadline:           10 * time.Second,
			EnableMessageOrdering: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create subscription %s: %w", subID, err)
		}
		c.log.Info("created bus subscription", "subscription", subID, "topic", topicID)
	}
	return sub, nil
}

// WaitReady polls the broker until it answers a topic listing or the
// deadline passes. Used at startup so services tolerate the broker
// coming up after them.
func (c *Client) WaitReady(ctx context.Context, maxWait, interval time.Duration) error {
	deadline := time.Now().Add(maxWait)
	start := time.Now()
	attempt := 0
	for {
		attempt++
		probe, cancel := context.WithTimeout(ctx, interval)
		it := c.ps.Topics(probe)
		_, err := it.Next()
		cancel()
		if err == nil || err == iterator.Done {
			c.log.Info("bus ready", "elapsed", time.Since(start).Round(100*time.Millisecond))
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("bus not ready after %s: %w", maxWait, err)
		}
		if attempt%5 == 0 {
			c.log.Info("waiting for bus",
				"elapsed", time.Since(start).Round(time.Second),
				"max_wait", maxWait,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
