// Package repository holds the PostgreSQL persistence layer. Each store is
// exposed as an interface so services and sweeps can be tested with fakes.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okeeper/vpn-access-service/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrActiveGrantExists is returned when inserting an active grant would
	// violate the one-active-grant-per-user index.
	ErrActiveGrantExists = errors.New("user already has an active grant")
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID string) (*models.User, error)
	// EnsureByTelegramID returns the existing user or creates one on first contact.
	EnsureByTelegramID(ctx context.Context, telegramID, username string) (*models.User, error)
	ListActive(ctx context.Context) ([]*models.User, error)
	UpdateSubscription(ctx context.Context, id string, isSubscribed bool, checkedAt time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}

type ServerStore interface {
	GetByID(ctx context.Context, id string) (*models.VPNServer, error)
	ListActive(ctx context.Context) ([]*models.VPNServer, error)
	Create(ctx context.Context, s *models.VPNServer) error
	Deactivate(ctx context.Context, id string) error
}

type GrantStore interface {
	Create(ctx context.Context, g *models.AccessGrant) error
	GetActiveByUser(ctx context.Context, userID string) (*models.AccessGrant, error)
	GetActiveByServerAndConfigID(ctx context.Context, serverID, configID string) (*models.AccessGrant, error)
	ListActive(ctx context.Context) ([]*models.AccessGrant, error)
	ListActiveByServer(ctx context.Context, serverID string) ([]*models.AccessGrant, error)
	Deactivate(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

type UsageStore interface {
	// Accumulate upserts the (config_id, date) row. Byte and seconds counters
	// only ever grow: an upsert with smaller values than the stored row is a
	// no-op on those columns.
	Accumulate(ctx context.Context, rec *models.UsageRecord) error
	ListByConfigID(ctx context.Context, configID string, limit int) ([]*models.UsageRecord, error)
}
