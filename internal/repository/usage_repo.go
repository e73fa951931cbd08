package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okeeper/vpn-access-service/internal/models"
)

type UsageRepository struct {
	pool *pgxpool.Pool
}

func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// Accumulate upserts the per-day ledger row. The Outline metrics endpoint
// reports counters cumulative over its window, so GREATEST keeps the stored
// row monotonically non-decreasing even if the remote counter resets.
func (r *UsageRepository) Accumulate(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, config_id, date, bytes_sent, bytes_received, connection_seconds, last_connected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (config_id, date) DO UPDATE SET
			bytes_sent = GREATEST(usage_records.bytes_sent, EXCLUDED.bytes_sent),
			bytes_received = GREATEST(usage_records.bytes_received, EXCLUDED.bytes_received),
			connection_seconds = GREATEST(usage_records.connection_seconds, EXCLUDED.connection_seconds),
			last_connected_at = GREATEST(usage_records.last_connected_at, EXCLUDED.last_connected_at)
	`
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, query,
		id, rec.ConfigID, rec.Date,
		rec.BytesSent, rec.BytesReceived, rec.ConnectionSeconds, rec.LastConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert usage_record: %w", err)
	}
	return nil
}

func (r *UsageRepository) ListByConfigID(ctx context.Context, configID string, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = 90
	}
	query := `
		SELECT id, config_id, date, bytes_sent, bytes_received, connection_seconds, last_connected_at
		FROM usage_records
		WHERE config_id = $1
		ORDER BY date DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage_records: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *UsageRepository) scanMany(rows pgx.Rows) ([]*models.UsageRecord, error) {
	var records []*models.UsageRecord
	for rows.Next() {
		rec := &models.UsageRecord{}
		err := rows.Scan(
			&rec.ID, &rec.ConfigID, &rec.Date,
			&rec.BytesSent, &rec.BytesReceived, &rec.ConnectionSeconds, &rec.LastConnectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage_record row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
