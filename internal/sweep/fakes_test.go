package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/okeeper/vpn-access-service/internal/client"
	"github.com/okeeper/vpn-access-service/internal/models"
	"github.com/okeeper/vpn-access-service/internal/repository"
)

type staticServers []*models.VPNServer

func (s staticServers) ListActive() []*models.VPNServer { return s }

type fakeKeyLister struct {
	keys map[string][]client.AccessKey // by server id
	errs map[string]error
}

func (f *fakeKeyLister) ListKeys(_ context.Context, serverID string) ([]client.AccessKey, error) {
	if err := f.errs[serverID]; err != nil {
		return nil, err
	}
	return f.keys[serverID], nil
}

type fakeMetricsSource struct {
	metrics map[string]*client.ServerMetrics // by server id
}

func (f *fakeMetricsSource) GetDetailedMetrics(_ context.Context, serverID string, _ time.Time) *client.ServerMetrics {
	if m, ok := f.metrics[serverID]; ok {
		return m
	}
	return &client.ServerMetrics{Keys: map[string]client.KeyMetrics{}}
}

type fakeGrantStore struct {
	mu     sync.Mutex
	grants []*models.AccessGrant
}

func (f *fakeGrantStore) add(g *models.AccessGrant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, g)
}

func (f *fakeGrantStore) Create(_ context.Context, g *models.AccessGrant) error {
	f.add(g)
	return nil
}

func (f *fakeGrantStore) GetActiveByUser(_ context.Context, userID string) (*models.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.UserID == userID && g.IsActive {
			return g, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeGrantStore) GetActiveByServerAndConfigID(_ context.Context, serverID, configID string) (*models.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.ServerID == serverID && g.ConfigID == configID && g.IsActive {
			return g, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeGrantStore) ListActive(_ context.Context) ([]*models.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AccessGrant
	for _, g := range f.grants {
		if g.IsActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeGrantStore) ListActiveByServer(_ context.Context, serverID string) ([]*models.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AccessGrant
	for _, g := range f.grants {
		if g.ServerID == serverID && g.IsActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeGrantStore) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.ID == id {
			g.IsActive = false
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeGrantStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.ID == id {
			g.LastUsedAt = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeUserStore struct {
	mu    sync.Mutex
	users []*models.User
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) GetByTelegramID(_ context.Context, telegramID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.TelegramID == telegramID {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) EnsureByTelegramID(_ context.Context, telegramID, username string) (*models.User, error) {
	if u, err := f.GetByTelegramID(context.Background(), telegramID); err == nil {
		return u, nil
	}
	u := &models.User{ID: "u-" + telegramID, TelegramID: telegramID, Username: username, IsActive: true}
	f.mu.Lock()
	f.users = append(f.users, u)
	f.mu.Unlock()
	return u, nil
}

func (f *fakeUserStore) ListActive(_ context.Context) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.User
	for _, u := range f.users {
		if u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUserStore) UpdateSubscription(_ context.Context, id string, isSubscribed bool, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			u.IsSubscribed = isSubscribed
			u.SubscriptionCheckedAt = &checkedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeUserStore) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			u.IsActive = active
			return nil
		}
	}
	return repository.ErrNotFound
}

// fakeUsageStore applies the same only-grows upsert rule as the SQL ledger.
type fakeUsageStore struct {
	mu   sync.Mutex
	rows map[string]*models.UsageRecord // config_id + "/" + date
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{rows: make(map[string]*models.UsageRecord)}
}

func (f *fakeUsageStore) Accumulate(_ context.Context, rec *models.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := rec.ConfigID + "/" + rec.Date.Format("2006-01-02")
	row, ok := f.rows[key]
	if !ok {
		cp := *rec
		f.rows[key] = &cp
		return nil
	}
	row.BytesSent = max(row.BytesSent, rec.BytesSent)
	row.BytesReceived = max(row.BytesReceived, rec.BytesReceived)
	row.ConnectionSeconds = max(row.ConnectionSeconds, rec.ConnectionSeconds)
	if rec.LastConnectedAt != nil {
		row.LastConnectedAt = rec.LastConnectedAt
	}
	return nil
}

func (f *fakeUsageStore) ListByConfigID(_ context.Context, configID string, _ int) ([]*models.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.UsageRecord
	for _, r := range f.rows {
		if r.ConfigID == configID {
			out = append(out, r)
		}
	}
	return out, nil
}

type checkResult struct {
	entitled bool
	err      error
}

type fakeEntitlements struct {
	mu      sync.Mutex
	results map[string]checkResult // by user id
}

func (f *fakeEntitlements) Check(_ context.Context, user *models.User) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.results[user.ID]
	if res.err == nil {
		user.IsSubscribed = res.entitled
	}
	return res.entitled, res.err
}

type fakeRevoker struct {
	mu      sync.Mutex
	grants  *fakeGrantStore
	revoked []string
	err     error
}

func (f *fakeRevoker) Revoke(ctx context.Context, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.revoked = append(f.revoked, userID)
	f.mu.Unlock()
	if g, err := f.grants.GetActiveByUser(ctx, userID); err == nil {
		_ = f.grants.Deactivate(ctx, g.ID)
	}
	return nil
}

type sentMessage struct {
	telegramID string
	message    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeNotifier) Notify(_ context.Context, telegramID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{telegramID: telegramID, message: message})
	return nil
}
