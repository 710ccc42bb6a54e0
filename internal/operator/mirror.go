package operator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetgrid/backend/internal/telemetry"
)

const (
	mirrorKeyPrefix = "fleetgrid:last_anomaly:"
	mirrorCountKey  = "fleetgrid:anomaly_count"
	mirrorTTL       = 24 * time.Hour
)

// Mirror keeps the latest anomaly per vehicle in Redis so restarts and
// sibling operator instances share hot state. A nil *Mirror is a no-op;
// the operator degrades to in-memory aggregates when Redis is absent.
type Mirror struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewMirror connects to Redis and verifies it with a ping.
func NewMirror(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	logger.Info("redis mirror connected", "addr", addr, "db", db)
	return &Mirror{rdb: rdb, log: logger}, nil
}

// Store writes the anomaly as the vehicle's latest and bumps the
// per-vehicle counter. Failures are logged, never propagated; Redis is
// a cache here, not a system of record.
func (m *Mirror) Store(ctx context.Context, a *telemetry.Anomaly) {
	if m == nil {
		return
	}
	payload, err := telemetry.EncodeAnomaly(a)
	if err != nil {
		m.log.Warn("encoding anomaly for mirror", "error", err)
		return
	}

	pipe := m.rdb.Pipeline()
	pipe.Set(ctx, mirrorKeyPrefix+a.VehicleID, payload, mirrorTTL)
	pipe.HIncrBy(ctx, mirrorCountKey, a.VehicleID, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn("mirroring anomaly to redis", "vehicle", a.VehicleID, "error", err)
	}
}

// LastAnomaly fetches the vehicle's latest mirrored anomaly, or nil
// when none is cached.
func (m *Mirror) LastAnomaly(ctx context.Context, vehicleID string) (*telemetry.Anomaly, error) {
	if m == nil {
		return nil, nil
	}
	data, err := m.rdb.Get(ctx, mirrorKeyPrefix+vehicleID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", vehicleID, err)
	}
	return telemetry.DecodeAnomaly(data)
}

// Close releases the connection pool.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.rdb.Close()
}
