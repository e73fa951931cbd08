package models

import "time"

// AccessGrant asserts that a user currently holds a usable remote key on one
// VPN server. ConfigID is the key id assigned by the Outline server,
// ConfigData the opaque access URL handed to the client app.
//
// A grant only ever moves active -> inactive. Renewal creates a new grant row,
// so inactive rows form an append-only audit trail.
type AccessGrant struct {
	ID       string
	ConfigID string
	UserID   string
	ServerID string

	ConfigData string
	IsActive   bool

	CreatedAt  time.Time
	LastUsedAt *time.Time
}
