// Package sweep holds the periodic batch passes that keep local state,
// remote key inventories and entitlement in agreement.
package sweep

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okeeper/vpn-access-service/internal/client"
	"github.com/okeeper/vpn-access-service/internal/models"
	"github.com/okeeper/vpn-access-service/internal/repository"
)

// ErrSweepRunning means the previous tick has not finished; the caller skips
// this tick rather than piling up outbound request concurrency.
var ErrSweepRunning = errors.New("sweep already running")

// ServerLister is the registry slice the sweeps need.
type ServerLister interface {
	ListActive() []*models.VPNServer
}

// MetricsSource pulls per-key counters for one server. It never fails: a dead
// server yields the empty sentinel.
type MetricsSource interface {
	GetDetailedMetrics(ctx context.Context, serverID string, since time.Time) *client.ServerMetrics
}

// metricsWindow matches the Outline metrics endpoint's cumulative window.
const metricsWindow = 30 * 24 * time.Hour

// MetricsSweep periodically ingests usage counters from every server into the
// per-day ledger.
type MetricsSweep struct {
	servers ServerLister
	source  MetricsSource
	grants  repository.GrantStore
	usage   repository.UsageStore

	mu sync.Mutex
}

func NewMetricsSweep(servers ServerLister, source MetricsSource, grants repository.GrantStore, usage repository.UsageStore) *MetricsSweep {
	return &MetricsSweep{
		servers: servers,
		source:  source,
		grants:  grants,
		usage:   usage,
	}
}

// Run executes one ingestion tick, fanning out one goroutine per active
// server. A server that cannot be queried contributes nothing; the rest are
// unaffected.
func (s *MetricsSweep) Run(ctx context.Context) error {
	if !s.mu.TryLock() {
		return ErrSweepRunning
	}
	defer s.mu.Unlock()

	servers := s.servers.ListActive()
	since := time.Now().Add(-metricsWindow)

	var ingested atomic.Int64
	var wg sync.WaitGroup
	for _, server := range servers {
		wg.Add(1)
		go func(server *models.VPNServer) {
			defer wg.Done()
			n := s.ingestServer(ctx, server, since)
			ingested.Add(int64(n))
		}(server)
	}
	wg.Wait()

	log.Printf("[MetricsSweep] Tick complete: %d server(s), %d ledger row(s) updated", len(servers), ingested.Load())
	return nil
}

func (s *MetricsSweep) ingestServer(ctx context.Context, server *models.VPNServer, since time.Time) int {
	metrics := s.source.GetDetailedMetrics(ctx, server.ID, since)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	updated := 0

	for keyID, km := range metrics.Keys {
		grant, err := s.grants.GetActiveByServerAndConfigID(ctx, server.ID, keyID)
		if err != nil {
			// Keys with no matching grant may belong to a just-created grant
			// not yet committed, or to out-of-band server activity.
			if !errors.Is(err, repository.ErrNotFound) {
				log.Printf("[MetricsSweep] Grant lookup failed for key %s on server %s: %v", keyID, server.ID, err)
			}
			continue
		}

		rec := &models.UsageRecord{
			ConfigID:          keyID,
			Date:              today,
			BytesSent:         km.BytesTransferred / 2,
			BytesReceived:     km.BytesTransferred - km.BytesTransferred/2,
			ConnectionSeconds: km.TunnelSeconds,
		}
		if !km.LastTrafficSeen.IsZero() {
			t := km.LastTrafficSeen
			rec.LastConnectedAt = &t
		}

		if err := s.usage.Accumulate(ctx, rec); err != nil {
			log.Printf("[MetricsSweep] Failed to upsert usage for key %s: %v", keyID, err)
			continue
		}

		if rec.LastConnectedAt != nil {
			if err := s.grants.TouchLastUsed(ctx, grant.ID, *rec.LastConnectedAt); err != nil {
				log.Printf("[MetricsSweep] Failed to touch last_used for grant %s: %v", grant.ID, err)
			}
		}
		updated++
	}

	return updated
}
