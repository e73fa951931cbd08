package sweep

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/okeeper/vpn-access-service/internal/client"
	"github.com/okeeper/vpn-access-service/internal/models"
	"github.com/okeeper/vpn-access-service/internal/repository"
	"github.com/okeeper/vpn-access-service/internal/service"
)

// KeyLister is the Outline client slice the drift pass needs.
type KeyLister interface {
	ListKeys(ctx context.Context, serverID string) ([]client.AccessKey, error)
}

// Revoker tears down a user's grant locally and remotely.
type Revoker interface {
	Revoke(ctx context.Context, userID string) error
}

// EntitlementChecker re-evaluates one user against the membership source.
type EntitlementChecker interface {
	Check(ctx context.Context, user *models.User) (bool, error)
}

// Notifier delivers fire-and-forget user messages.
type Notifier interface {
	Notify(ctx context.Context, telegramID, message string) error
}

const (
	driftMessage = "Your VPN key was removed on the server and your access record has been closed. Use /start to request a new key."
	lossMessage  = "Your VPN access was deactivated because your channel subscription ended. Re-subscribe and use /start to restore access."
)

// Summary is the observable outcome of one reconciliation tick.
type Summary struct {
	TotalChecked             int `json:"total_checked"`
	DeactivatedByDrift       int `json:"deactivated_by_drift"`
	DeactivatedByEntitlement int `json:"deactivated_by_entitlement"`
}

// ReconcileSweep runs two passes per tick: first it deactivates local grants
// whose remote key vanished (drift), then it revokes grants of users whose
// entitlement lapsed. Each server and each user is handled independently, so
// a single failure never aborts the tick.
type ReconcileSweep struct {
	servers      ServerLister
	keys         KeyLister
	grants       repository.GrantStore
	users        repository.UserStore
	entitlements EntitlementChecker
	revoker      Revoker
	notifier     Notifier

	mu sync.Mutex
}

func NewReconcileSweep(
	servers ServerLister,
	keys KeyLister,
	grants repository.GrantStore,
	users repository.UserStore,
	entitlements EntitlementChecker,
	revoker Revoker,
	notifier Notifier,
) *ReconcileSweep {
	return &ReconcileSweep{
		servers:      servers,
		keys:         keys,
		grants:       grants,
		users:        users,
		entitlements: entitlements,
		revoker:      revoker,
		notifier:     notifier,
	}
}

// Run executes one reconciliation tick. TotalChecked counts grants examined
// by the drift pass plus users examined by the entitlement pass.
func (s *ReconcileSweep) Run(ctx context.Context) (Summary, error) {
	if !s.mu.TryLock() {
		return Summary{}, ErrSweepRunning
	}
	defer s.mu.Unlock()

	var summary Summary

	checked, drifted := s.driftPass(ctx)
	summary.TotalChecked += checked
	summary.DeactivatedByDrift = drifted

	checked, revoked := s.entitlementPass(ctx)
	summary.TotalChecked += checked
	summary.DeactivatedByEntitlement = revoked

	log.Printf("[ReconcileSweep] Tick complete: checked=%d drift=%d entitlement=%d",
		summary.TotalChecked, summary.DeactivatedByDrift, summary.DeactivatedByEntitlement)
	return summary, nil
}

// driftPass deactivates local grants whose remote key is gone. This models
// operator-side revocation done directly on a VPN server.
func (s *ReconcileSweep) driftPass(ctx context.Context) (checked, deactivated int) {
	var checkedN, deactivatedN atomic.Int64

	var wg sync.WaitGroup
	for _, server := range s.servers.ListActive() {
		wg.Add(1)
		go func(server *models.VPNServer) {
			defer wg.Done()
			c, d := s.driftServer(ctx, server)
			checkedN.Add(int64(c))
			deactivatedN.Add(int64(d))
		}(server)
	}
	wg.Wait()

	return int(checkedN.Load()), int(deactivatedN.Load())
}

func (s *ReconcileSweep) driftServer(ctx context.Context, server *models.VPNServer) (checked, deactivated int) {
	keys, err := s.keys.ListKeys(ctx, server.ID)
	if err != nil {
		// The server's grants are reconsidered on the next tick.
		log.Printf("[ReconcileSweep] Skipping server %s (%s): %v", server.ID, server.Name, err)
		return 0, 0
	}

	remote := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		remote[k.ID] = struct{}{}
	}

	grants, err := s.grants.ListActiveByServer(ctx, server.ID)
	if err != nil {
		log.Printf("[ReconcileSweep] Failed to list grants for server %s: %v", server.ID, err)
		return 0, 0
	}

	for _, grant := range grants {
		checked++
		if _, ok := remote[grant.ConfigID]; ok {
			continue
		}

		if err := s.grants.Deactivate(ctx, grant.ID); err != nil {
			log.Printf("[ReconcileSweep] Failed to deactivate drifted grant %s: %v", grant.ID, err)
			continue
		}
		deactivated++
		log.Printf("[ReconcileSweep] Grant %s deactivated: key %s vanished from server %s",
			grant.ID, grant.ConfigID, server.ID)

		s.notifyUser(ctx, grant.UserID, driftMessage)
	}
	return checked, deactivated
}

// entitlementPass revokes grants of users who are no longer entitled. A
// lookup failure is treated as not-entitled (access fails closed) but is
// logged apart from a confirmed negative and sends no notification, so a user
// is messaged exactly once per confirmed loss.
func (s *ReconcileSweep) entitlementPass(ctx context.Context) (checked, revoked int) {
	users, err := s.users.ListActive(ctx)
	if err != nil {
		log.Printf("[ReconcileSweep] Failed to list active users: %v", err)
		return 0, 0
	}

	for _, user := range users {
		checked++
		wasEntitled := user.IsSubscribed

		entitled, err := s.entitlements.Check(ctx, user)
		lookupFailed := err != nil
		if lookupFailed && !errors.Is(err, service.ErrEntitlementLookup) {
			log.Printf("[ReconcileSweep] Entitlement check failed for user %s: %v", user.ID, err)
			continue
		}

		if entitled || !wasEntitled {
			continue
		}

		if err := s.revoker.Revoke(ctx, user.ID); err != nil {
			log.Printf("[ReconcileSweep] Failed to revoke grant for user %s: %v", user.ID, err)
			continue
		}
		revoked++

		if lookupFailed {
			log.Printf("[ReconcileSweep] Revoked user %s on entitlement lookup failure (fail-closed)", user.ID)
			continue
		}
		log.Printf("[ReconcileSweep] Revoked user %s: entitlement lost", user.ID)
		if err := s.notifier.Notify(ctx, user.TelegramID, lossMessage); err != nil {
			log.Printf("[ReconcileSweep] Failed to notify user %s: %v", user.TelegramID, err)
		}
	}
	return checked, revoked
}

// notifyUser resolves an internal user id to a chat id and sends the message.
func (s *ReconcileSweep) notifyUser(ctx context.Context, userID, message string) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		log.Printf("[ReconcileSweep] Cannot notify user %s: %v", userID, err)
		return
	}
	if err := s.notifier.Notify(ctx, user.TelegramID, message); err != nil {
		log.Printf("[ReconcileSweep] Failed to notify user %s: %v", user.TelegramID, err)
	}
}
