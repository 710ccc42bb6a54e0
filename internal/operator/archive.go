package operator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/fleetgrid/backend/internal/circuitbreaker"
	"github.com/fleetgrid/backend/internal/telemetry"
)

const anomaliesSchema = `
CREATE TABLE IF NOT EXISTS anomalies (
	anomaly_id      TEXT PRIMARY KEY,
	vehicle_id      TEXT NOT NULL,
	scene_id        TEXT NOT NULL,
	frame_index     BIGINT NOT NULL,
	rule_name       TEXT NOT NULL,
	severity        TEXT NOT NULL,
	event_time      TIMESTAMPTZ NOT NULL,
	processing_time TIMESTAMPTZ NOT NULL,
	payload         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS anomalies_vehicle_idx ON anomalies (vehicle_id, frame_index);
`

const insertAnomaly = `
INSERT INTO anomalies
	(anomaly_id, vehicle_id, scene_id, frame_index, rule_name, severity, event_time, processing_time, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (anomaly_id) DO NOTHING`

// Archive persists anomalies to Postgres. Inserts are keyed on
// anomaly_id so bus redeliveries are absorbed by the database. A nil
// *Archive is a no-op; the operator runs without durable history when
// Postgres is absent.
type Archive struct {
	db      *sql.DB
	breaker *circuitbreaker.Breaker
	log     *slog.Logger
}

// NewArchive connects to Postgres, verifies the connection, and ensures
// the anomalies table exists.
func NewArchive(ctx context.Context, dsn string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, anomaliesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure anomalies schema: %w", err)
	}

	logger.Info("anomaly archive ready")
	return &Archive{
		db:      db,
		breaker: circuitbreaker.New(circuitbreaker.PublishConfig("anomaly-archive"), logger),
		log:     logger,
	}, nil
}

// Store inserts one anomaly. Failures are logged and counted against
// the breaker; archival never blocks the live feed.
func (ar *Archive) Store(ctx context.Context, a *telemetry.Anomaly) {
	if ar == nil {
		return
	}
	err := ar.breaker.Execute(func() error {
		payload, err := telemetry.EncodeAnomaly(a)
		if err != nil {
			return fmt.Errorf("encode anomaly %s: %w", a.AnomalyID, err)
		}
		_, err = ar.db.ExecContext(ctx, insertAnomaly,
			a.AnomalyID, a.VehicleID, a.SceneID, a.FrameIndex,
			a.RuleName, string(a.Severity), a.EventTime, a.ProcessingTime,
			payload,
		)
		return err
	})
	if err != nil {
		ar.log.Warn("archiving anomaly", "anomaly", a.AnomalyID, "error", err)
	}
}

// Recent returns the newest anomalies for one vehicle, most recent
// first.
func (ar *Archive) Recent(ctx context.Context, vehicleID string, limit int) ([]*telemetry.Anomaly, error) {
	if ar == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := ar.db.QueryContext(ctx,
		`SELECT payload FROM anomalies WHERE vehicle_id = $1 ORDER BY frame_index DESC LIMIT $2`,
		vehicleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query anomalies for %s: %w", vehicleID, err)
	}
	defer rows.Close()

	var out []*telemetry.Anomaly
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		a, err := telemetry.DecodeAnomaly(payload)
		if err != nil {
			ar.log.Warn("skipping undecodable archived anomaly", "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (ar *Archive) Close() error {
	if ar == nil {
		return nil
	}
	return ar.db.Close()
}
