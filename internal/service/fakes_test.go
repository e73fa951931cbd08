package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okeeper/vpn-access-service/internal/client"
	"github.com/okeeper/vpn-access-service/internal/models"
	"github.com/okeeper/vpn-access-service/internal/repository"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User // by id

	subscriptionWrites int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (f *fakeUserStore) addUser(telegramID, username string, active bool) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &models.User{
		ID:         uuid.New().String(),
		TelegramID: telegramID,
		Username:   username,
		IsActive:   active,
	}
	f.users[u.ID] = u
	return u
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
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
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.TelegramID == telegramID {
			if username != "" {
				u.Username = username
			}
			return u, nil
		}
	}
	u := &models.User{
		ID:         uuid.New().String(),
		TelegramID: telegramID,
		Username:   username,
		IsActive:   true,
	}
	f.users[u.ID] = u
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
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsSubscribed = isSubscribed
	u.SubscriptionCheckedAt = &checkedAt
	f.subscriptionWrites++
	return nil
}

func (f *fakeUserStore) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = active
	return nil
}

// fakeGrantStore enforces the one-active-grant-per-user rule the way the
// partial unique index does, so concurrency tests exercise the real failure
// mode.
type fakeGrantStore struct {
	mu     sync.Mutex
	grants map[string]*models.AccessGrant // by id

	createErr error
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{grants: make(map[string]*models.AccessGrant)}
}

func (f *fakeGrantStore) Create(_ context.Context, g *models.AccessGrant) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if g.IsActive {
		for _, e := range f.grants {
			if e.UserID == g.UserID && e.IsActive {
				return repository.ErrActiveGrantExists
			}
		}
	}
	cp := *g
	cp.CreatedAt = time.Now()
	f.grants[g.ID] = &cp
	return nil
}

func (f *fakeGrantStore) GetActiveByUser(_ context.Context, userID string) (*models.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.UserID == userID && g.IsActive {
			cp := *g
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeGrantStore) GetActiveByServerAndConfigID(_ context.Context, serverID, configID string) (*models.AccessGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.ServerID == serverID && g.ConfigID == configID && g.IsActive {
			cp := *g
			return &cp, nil
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
			cp := *g
			out = append(out, &cp)
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
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeGrantStore) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[id]
	if !ok {
		return repository.ErrNotFound
	}
	g.IsActive = false
	return nil
}

func (f *fakeGrantStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[id]
	if !ok {
		return repository.ErrNotFound
	}
	g.LastUsedAt = &at
	return nil
}

func (f *fakeGrantStore) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.grants {
		if g.IsActive {
			n++
		}
	}
	return n
}

type fakeUsageStore struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

func (f *fakeUsageStore) Accumulate(_ context.Context, rec *models.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records = append(f.records, &cp)
	return nil
}

func (f *fakeUsageStore) ListByConfigID(_ context.Context, configID string, _ int) ([]*models.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.UsageRecord
	for _, r := range f.records {
		if r.ConfigID == configID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeProvisioner records remote key operations in order.
type fakeProvisioner struct {
	mu      sync.Mutex
	nextID  int
	created []string // key ids, in creation order
	deleted []string // "serverID/keyID", in deletion order
	limits  map[string]int64

	createErr error
	deleteErr error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{limits: make(map[string]int64)}
}

func (f *fakeProvisioner) CreateKey(_ context.Context, serverID, label string) (*client.AccessKey, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	f.created = append(f.created, id)
	return &client.AccessKey{
		ID:        id,
		Name:      label,
		AccessURL: fmt.Sprintf("ss://key-%s@%s", id, serverID),
	}, nil
}

func (f *fakeProvisioner) DeleteKey(_ context.Context, serverID, keyID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, serverID+"/"+keyID)
	return nil
}

func (f *fakeProvisioner) SetDataLimit(_ context.Context, serverID, keyID string, bytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits[serverID+"/"+keyID] = bytes
	return nil
}

func (f *fakeProvisioner) RemoveDataLimit(_ context.Context, serverID, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.limits, serverID+"/"+keyID)
	return nil
}

type fakeServerStore struct {
	mu      sync.Mutex
	servers []*models.VPNServer
}

func (f *fakeServerStore) GetByID(_ context.Context, id string) (*models.VPNServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.servers {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeServerStore) ListActive(_ context.Context) ([]*models.VPNServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.VPNServer
	for _, s := range f.servers {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeServerStore) Create(_ context.Context, s *models.VPNServer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers = append(f.servers, s)
	return nil
}

func (f *fakeServerStore) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.servers {
		if s.ID == id {
			s.IsActive = false
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeMembership struct {
	mu      sync.Mutex
	members map[string]bool  // channelID/telegramID -> member
	errs    map[string]error // channelID/telegramID -> lookup failure
	calls   int
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{
		members: make(map[string]bool),
		errs:    make(map[string]error),
	}
}

func (f *fakeMembership) CheckMembership(_ context.Context, channelID, telegramID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := channelID + "/" + telegramID
	if err := f.errs[key]; err != nil {
		return false, err
	}
	return f.members[key], nil
}
