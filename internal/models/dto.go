package models

// ===== HTTP API DTOs =====

// GrantRequest creates a new access grant for a user
type GrantRequest struct {
	TelegramID string `json:"telegram_id" binding:"required"`
	Username   string `json:"username,omitempty"`
	ServerID   string `json:"server_id,omitempty"` // empty = registry default
}

// GrantResponse returns the provisioned key to the caller
type GrantResponse struct {
	GrantID    string `json:"grant_id"`
	ConfigID   string `json:"config_id"`
	ServerID   string `json:"server_id"`
	ConfigData string `json:"config_data"`
	CreatedAt  string `json:"created_at"`
}

// AddServerRequest registers a new VPN control-plane server
type AddServerRequest struct {
	Name       string `json:"name" binding:"required"`
	Location   string `json:"location" binding:"required"`
	APIURL     string `json:"api_url" binding:"required"`
	CertSHA256 string `json:"cert_sha256" binding:"required"`
}

// DataLimitRequest sets a per-key traffic cap
type DataLimitRequest struct {
	Bytes int64 `json:"bytes" binding:"required"`
}

// ServerStatusEntry is one server's slice of the status endpoint
type ServerStatusEntry struct {
	ServerID  string `json:"server_id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	Reachable bool   `json:"reachable"`
	KeyCount  int    `json:"key_count,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UsageResponse aggregates a user's ledger rows
type UsageResponse struct {
	ConfigID          string       `json:"config_id"`
	TotalBytes        int64        `json:"total_bytes"`
	ConnectionSeconds int64        `json:"connection_seconds"`
	Days              []UsageEntry `json:"days"`
}

// UsageEntry is a single day of the ledger
type UsageEntry struct {
	Date              string `json:"date"`
	BytesSent         int64  `json:"bytes_sent"`
	BytesReceived     int64  `json:"bytes_received"`
	ConnectionSeconds int64  `json:"connection_seconds"`
}
