package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/okeeper/vpn-access-service/internal/client"
	"github.com/okeeper/vpn-access-service/internal/models"
	"github.com/okeeper/vpn-access-service/internal/registry"
	"github.com/okeeper/vpn-access-service/internal/repository"
)

// Provisioner is the slice of the Outline client the lifecycle manager needs.
type Provisioner interface {
	CreateKey(ctx context.Context, serverID, label string) (*client.AccessKey, error)
	DeleteKey(ctx context.Context, serverID, keyID string) error
	SetDataLimit(ctx context.Context, serverID, keyID string, bytes int64) error
	RemoveDataLimit(ctx context.Context, serverID, keyID string) error
}

// GrantService owns all writes to access_grants and enforces the
// at-most-one-active-grant-per-user invariant. Transitions for one user are
// serialized through a per-user mutex; the partial unique index backs the
// same invariant at the database level for good measure.
type GrantService struct {
	users    repository.UserStore
	grants   repository.GrantStore
	usage    repository.UsageStore
	registry *registry.Registry
	outline  Provisioner

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewGrantService(
	users repository.UserStore,
	grants repository.GrantStore,
	usage repository.UsageStore,
	reg *registry.Registry,
	outline Provisioner,
) *GrantService {
	return &GrantService{
		users:     users,
		grants:    grants,
		usage:     usage,
		registry:  reg,
		outline:   outline,
		userLocks: make(map[string]*sync.Mutex),
	}
}

func (s *GrantService) lockUser(userID string) func() {
	s.mu.Lock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Grant provisions a remote key and records the grant. The local row is
// written only after the remote key exists, so a remote failure leaves no
// orphan state. A pre-existing active grant fails with ErrGrantConflict.
func (s *GrantService) Grant(ctx context.Context, telegramID, username, serverID string) (*models.AccessGrant, error) {
	user, err := s.users.EnsureByTelegramID(ctx, telegramID, username)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	if _, err := s.grants.GetActiveByUser(ctx, user.ID); err == nil {
		return nil, ErrGrantConflict
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check active grant: %w", err)
	}

	server, err := s.resolveServer(serverID)
	if err != nil {
		return nil, err
	}

	return s.provision(ctx, user, server)
}

// Renew replaces the user's key: create-new first, then best-effort delete of
// the old remote key, so a failed delete never leaves the user keyless.
func (s *GrantService) Renew(ctx context.Context, telegramID, username string) (*models.AccessGrant, error) {
	user, err := s.users.EnsureByTelegramID(ctx, telegramID, username)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	old, err := s.grants.GetActiveByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveGrant
		}
		return nil, fmt.Errorf("get active grant: %w", err)
	}

	server, err := s.registry.Resolve(old.ServerID)
	if err != nil {
		// Old server gone from the registry; issue the new key on the default.
		server, err = s.registry.Default()
		if err != nil {
			return nil, err
		}
	}

	newKey, err := s.outline.CreateKey(ctx, server.ID, keyLabel(user))
	if err != nil {
		return nil, fmt.Errorf("create replacement key: %w", err)
	}

	// The partial unique index forbids two active rows, so the old row is
	// deactivated before the new one is inserted. The remote key created
	// above already exists either way.
	if err := s.grants.Deactivate(ctx, old.ID); err != nil {
		_ = s.outline.DeleteKey(ctx, server.ID, newKey.ID)
		return nil, fmt.Errorf("deactivate old grant: %w", err)
	}

	grant := &models.AccessGrant{
		ID:         uuid.New().String(),
		ConfigID:   newKey.ID,
		UserID:     user.ID,
		ServerID:   server.ID,
		ConfigData: newKey.AccessURL,
		IsActive:   true,
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		_ = s.outline.DeleteKey(ctx, server.ID, newKey.ID)
		return nil, fmt.Errorf("insert renewed grant: %w", err)
	}

	if err := s.outline.DeleteKey(ctx, old.ServerID, old.ConfigID); err != nil {
		// Reconciliation cleans up lingering remote keys later.
		log.Printf("[GrantService] Warning: failed to delete old key %s on server %s: %v",
			old.ConfigID, old.ServerID, err)
	}

	log.Printf("[GrantService] Renewed grant for user %s: %s -> %s", user.ID, old.ConfigID, newKey.ID)
	return grant, nil
}

// Revoke tears down the user's active grant. The remote delete is
// best-effort: local deactivation is the access-control source of truth, and
// a lingering remote key is cleaned up by the reconciliation sweep. Revoking
// a user with no active grant is a no-op.
func (s *GrantService) Revoke(ctx context.Context, userID string) error {
	unlock := s.lockUser(userID)
	defer unlock()

	grant, err := s.grants.GetActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get active grant: %w", err)
	}

	if err := s.outline.DeleteKey(ctx, grant.ServerID, grant.ConfigID); err != nil {
		log.Printf("[GrantService] Warning: failed to delete key %s on server %s: %v",
			grant.ConfigID, grant.ServerID, err)
	}

	if err := s.grants.Deactivate(ctx, grant.ID); err != nil {
		return fmt.Errorf("deactivate grant: %w", err)
	}

	log.Printf("[GrantService] Revoked grant %s for user %s", grant.ID, userID)
	return nil
}

// GetActiveGrant returns the user's active grant or ErrNoActiveGrant.
func (s *GrantService) GetActiveGrant(ctx context.Context, userID string) (*models.AccessGrant, error) {
	grant, err := s.grants.GetActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveGrant
		}
		return nil, err
	}
	return grant, nil
}

// SetDataLimit caps the active key's traffic on its server.
func (s *GrantService) SetDataLimit(ctx context.Context, userID string, bytes int64) error {
	grant, err := s.GetActiveGrant(ctx, userID)
	if err != nil {
		return err
	}
	return s.outline.SetDataLimit(ctx, grant.ServerID, grant.ConfigID, bytes)
}

// RemoveDataLimit lifts the active key's traffic cap.
func (s *GrantService) RemoveDataLimit(ctx context.Context, userID string) error {
	grant, err := s.GetActiveGrant(ctx, userID)
	if err != nil {
		return err
	}
	return s.outline.RemoveDataLimit(ctx, grant.ServerID, grant.ConfigID)
}

// GetUsage aggregates the ledger for the user's active grant.
func (s *GrantService) GetUsage(ctx context.Context, userID string) (*models.UsageResponse, error) {
	grant, err := s.GetActiveGrant(ctx, userID)
	if err != nil {
		return nil, err
	}

	records, err := s.usage.ListByConfigID(ctx, grant.ConfigID, 0)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	resp := &models.UsageResponse{ConfigID: grant.ConfigID}
	for _, rec := range records {
		resp.TotalBytes += rec.BytesSent + rec.BytesReceived
		resp.ConnectionSeconds += rec.ConnectionSeconds
		resp.Days = append(resp.Days, models.UsageEntry{
			Date:              rec.Date.Format("2006-01-02"),
			BytesSent:         rec.BytesSent,
			BytesReceived:     rec.BytesReceived,
			ConnectionSeconds: rec.ConnectionSeconds,
		})
	}
	return resp, nil
}

func (s *GrantService) resolveServer(serverID string) (*models.VPNServer, error) {
	if serverID == "" {
		return s.registry.Default()
	}
	return s.registry.Resolve(serverID)
}

func (s *GrantService) provision(ctx context.Context, user *models.User, server *models.VPNServer) (*models.AccessGrant, error) {
	key, err := s.outline.CreateKey(ctx, server.ID, keyLabel(user))
	if err != nil {
		return nil, fmt.Errorf("create key: %w", err)
	}

	grant := &models.AccessGrant{
		ID:         uuid.New().String(),
		ConfigID:   key.ID,
		UserID:     user.ID,
		ServerID:   server.ID,
		ConfigData: key.AccessURL,
		IsActive:   true,
	}

	if err := s.grants.Create(ctx, grant); err != nil {
		// Roll back the remote key so no orphan survives the failed insert.
		_ = s.outline.DeleteKey(ctx, server.ID, key.ID)
		if errors.Is(err, repository.ErrActiveGrantExists) {
			return nil, ErrGrantConflict
		}
		return nil, fmt.Errorf("insert grant: %w", err)
	}

	log.Printf("[GrantService] Granted key %s on server %s to user %s", key.ID, server.ID, user.ID)
	return grant, nil
}

func keyLabel(user *models.User) string {
	if user.Username != "" {
		return fmt.Sprintf("@%s - %s", user.Username, user.TelegramID)
	}
	return fmt.Sprintf("user_%s", user.TelegramID)
}
