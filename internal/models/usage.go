package models

import "time"

// UsageRecord is a per-day traffic ledger row, one per (config_id, date).
// The Outline API reports a single transferred-bytes counter, so the sweep
// splits it evenly between sent and received.
type UsageRecord struct {
	ID       string
	ConfigID string
	Date     time.Time // date only, truncated to UTC midnight

	BytesSent         int64
	BytesReceived     int64
	ConnectionSeconds int64

	LastConnectedAt *time.Time
}
