package models

import "time"

// VPNServer is a registered Outline control-plane endpoint.
// Servers are never hard-deleted: historical grants keep referencing them,
// so removal flips IsActive instead.
type VPNServer struct {
	ID       string
	Name     string
	Location string

	// Outline management API base URL and the pinned TLS certificate digest
	APIURL     string
	CertSHA256 string

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
