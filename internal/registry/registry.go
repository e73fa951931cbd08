// Package registry owns the in-memory table of VPN control-plane servers.
// All provisioning calls resolve credentials through it; the table is
// replaced atomically on Refresh so readers never observe a partial update.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/okeeper/vpn-access-service/internal/config"
	"github.com/okeeper/vpn-access-service/internal/models"
	"github.com/okeeper/vpn-access-service/internal/repository"
)

// ErrServerNotFound means the server id is not in the active table.
var ErrServerNotFound = errors.New("vpn server not registered")

type Registry struct {
	store    repository.ServerStore
	fallback config.OutlineConfig

	mu      sync.RWMutex
	servers map[string]*models.VPNServer
	ordered []*models.VPNServer
}

func New(store repository.ServerStore, fallback config.OutlineConfig) *Registry {
	return &Registry{
		store:    store,
		fallback: fallback,
		servers:  make(map[string]*models.VPNServer),
	}
}

// Refresh reloads all active servers from the store. If none exist and a
// static fallback is configured, a bootstrap server row is synthesized first,
// so a fresh install works with nothing but OUTLINE_API_URL in the env.
func (r *Registry) Refresh(ctx context.Context) error {
	servers, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active servers: %w", err)
	}

	if len(servers) == 0 && r.fallback.APIURL != "" {
		bootstrap := &models.VPNServer{
			ID:         uuid.New().String(),
			Name:       "default",
			Location:   "default",
			APIURL:     r.fallback.APIURL,
			CertSHA256: r.fallback.CertSHA256,
			IsActive:   true,
		}
		if err := r.store.Create(ctx, bootstrap); err != nil {
			return fmt.Errorf("create bootstrap server: %w", err)
		}
		log.Printf("[registry] Bootstrapped default server %s from config", bootstrap.ID)
		servers = []*models.VPNServer{bootstrap}
	}

	table := make(map[string]*models.VPNServer, len(servers))
	for _, s := range servers {
		table[s.ID] = s
	}

	r.mu.Lock()
	r.servers = table
	r.ordered = servers
	r.mu.Unlock()

	log.Printf("[registry] Refreshed: %d active server(s)", len(servers))
	return nil
}

// Resolve returns the credentials for one server id.
func (r *Registry) Resolve(serverID string) (*models.VPNServer, error) {
	r.mu.RLock()
	s, ok := r.servers[serverID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrServerNotFound
	}
	return s, nil
}

// ListActive returns the current table snapshot in creation order.
func (r *Registry) ListActive() []*models.VPNServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.VPNServer, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Default returns the first active server, used when a grant request does not
// name one.
func (r *Registry) Default() (*models.VPNServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ordered) == 0 {
		return nil, ErrServerNotFound
	}
	return r.ordered[0], nil
}

// Add persists a new server and refreshes the table.
func (r *Registry) Add(ctx context.Context, name, location, apiURL, certSHA256 string) (*models.VPNServer, error) {
	s := &models.VPNServer{
		ID:         uuid.New().String(),
		Name:       name,
		Location:   location,
		APIURL:     apiURL,
		CertSHA256: certSHA256,
		IsActive:   true,
	}
	if err := r.store.Create(ctx, s); err != nil {
		return nil, err
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	log.Printf("[registry] Added server %s (%s, %s)", s.ID, s.Name, s.Location)
	return s, nil
}

// Deactivate soft-deletes a server and refreshes the table.
func (r *Registry) Deactivate(ctx context.Context, serverID string) error {
	if err := r.store.Deactivate(ctx, serverID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrServerNotFound
		}
		return err
	}
	if err := r.Refresh(ctx); err != nil {
		return err
	}
	log.Printf("[registry] Deactivated server %s", serverID)
	return nil
}
