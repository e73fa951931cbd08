package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/okeeper/vpn-access-service/internal/models"
	"github.com/okeeper/vpn-access-service/internal/registry"
)

// ErrServerUnreachable wraps transport-level failures (dial, TLS, timeout).
// Callers retry on the next sweep tick, never inline.
var ErrServerUnreachable = errors.New("vpn server unreachable")

// RemoteAPIError is a 4xx/5xx from the Outline management API.
type RemoteAPIError struct {
	Status int
	Body   string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("outline api returned status %d: %s", e.Status, e.Body)
}

// AccessKey is a credential object living in an Outline server's key store.
type AccessKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Password  string     `json:"password,omitempty"`
	Port      int        `json:"port,omitempty"`
	Method    string     `json:"method,omitempty"`
	AccessURL string     `json:"accessUrl"`
	DataLimit *DataLimit `json:"dataLimit,omitempty"`
}

type DataLimit struct {
	Bytes int64 `json:"bytes"`
}

// ServerInfo is the GET /server payload.
type ServerInfo struct {
	Name               string `json:"name"`
	ServerID           string `json:"serverId"`
	Version            string `json:"version,omitempty"`
	MetricsEnabled     bool   `json:"metricsEnabled"`
	CreatedTimestampMs int64  `json:"createdTimestampMs"`
}

// KeyMetrics is one access key's slice of the experimental metrics endpoint.
type KeyMetrics struct {
	BytesTransferred int64
	TunnelSeconds    int64
	LastTrafficSeen  time.Time
}

// ServerMetrics maps access key id to its counters. The zero value doubles as
// the empty-metrics sentinel returned when a server cannot be queried, so
// sweeps degrade per-server instead of aborting.
type ServerMetrics struct {
	Keys map[string]KeyMetrics
}

func emptyMetrics() *ServerMetrics {
	return &ServerMetrics{Keys: map[string]KeyMetrics{}}
}

// OutlineClient issues key-management calls against registered Outline
// servers. Every operation is scoped to one server id so an unreachable
// server never blocks operations against the others.
type OutlineClient struct {
	registry *registry.Registry

	mu      sync.Mutex
	clients map[string]*http.Client // server id -> pinned-TLS client
}

func NewOutlineClient(reg *registry.Registry) *OutlineClient {
	return &OutlineClient{
		registry: reg,
		clients:  make(map[string]*http.Client),
	}
}

// CreateKey provisions a new access key and, when a label is given, names it.
// A rename failure is not fatal: the key is already usable.
func (c *OutlineClient) CreateKey(ctx context.Context, serverID, label string) (*AccessKey, error) {
	log.Printf("[OutlineClient] Creating key on server %s", serverID)

	var key AccessKey
	if err := c.do(ctx, serverID, http.MethodPost, "/access-keys", nil, &key); err != nil {
		return nil, err
	}

	if label != "" {
		body := map[string]string{"name": label}
		if err := c.do(ctx, serverID, http.MethodPut, "/access-keys/"+key.ID+"/name", body, nil); err != nil {
			log.Printf("[OutlineClient] Warning: failed to name key %s on server %s: %v", key.ID, serverID, err)
		} else {
			key.Name = label
		}
	}

	log.Printf("[OutlineClient] Key %s created on server %s", key.ID, serverID)
	return &key, nil
}

// DeleteKey removes an access key. Deleting an already-absent key is treated
// as success so revocation stays idempotent.
func (c *OutlineClient) DeleteKey(ctx context.Context, serverID, keyID string) error {
	err := c.do(ctx, serverID, http.MethodDelete, "/access-keys/"+keyID, nil, nil)
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		log.Printf("[OutlineClient] Key %s already absent on server %s", keyID, serverID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("[OutlineClient] Key %s deleted on server %s", keyID, serverID)
	return nil
}

// ListKeys returns the server's full key inventory.
func (c *OutlineClient) ListKeys(ctx context.Context, serverID string) ([]AccessKey, error) {
	var resp struct {
		AccessKeys []AccessKey `json:"accessKeys"`
	}
	if err := c.do(ctx, serverID, http.MethodGet, "/access-keys", nil, &resp); err != nil {
		return nil, err
	}
	return resp.AccessKeys, nil
}

// GetDataLimit returns the key's traffic cap, or nil when none is set.
func (c *OutlineClient) GetDataLimit(ctx context.Context, serverID, keyID string) (*DataLimit, error) {
	var limit DataLimit
	err := c.do(ctx, serverID, http.MethodGet, "/access-keys/"+keyID+"/data-limit", nil, &limit)
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &limit, nil
}

func (c *OutlineClient) SetDataLimit(ctx context.Context, serverID, keyID string, bytes int64) error {
	body := map[string]DataLimit{"limit": {Bytes: bytes}}
	return c.do(ctx, serverID, http.MethodPut, "/access-keys/"+keyID+"/data-limit", body, nil)
}

func (c *OutlineClient) RemoveDataLimit(ctx context.Context, serverID, keyID string) error {
	return c.do(ctx, serverID, http.MethodDelete, "/access-keys/"+keyID+"/data-limit", nil, nil)
}

// GetServerInfo returns the server's own metadata (GET /server).
func (c *OutlineClient) GetServerInfo(ctx context.Context, serverID string) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.do(ctx, serverID, http.MethodGet, "/server", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// outlineMetricsResponse mirrors GET /experimental/server/metrics.
type outlineMetricsResponse struct {
	AccessKeys []struct {
		ID              string `json:"id"`
		DataTransferred struct {
			Bytes int64 `json:"bytes"`
		} `json:"dataTransferred"`
		TunnelTime struct {
			Seconds int64 `json:"seconds"`
		} `json:"tunnelTime"`
		Connection struct {
			LastTrafficSeen int64 `json:"lastTrafficSeen"` // unix seconds
		} `json:"connection"`
	} `json:"accessKeys"`
}

// GetDetailedMetrics pulls per-key counters since the given time. On any
// failure it logs and returns the empty sentinel instead of an error.
func (c *OutlineClient) GetDetailedMetrics(ctx context.Context, serverID string, since time.Time) *ServerMetrics {
	path := "/experimental/server/metrics?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))

	var resp outlineMetricsResponse
	if err := c.do(ctx, serverID, http.MethodGet, path, nil, &resp); err != nil {
		log.Printf("[OutlineClient] Metrics unavailable for server %s: %v", serverID, err)
		return emptyMetrics()
	}

	metrics := emptyMetrics()
	for _, k := range resp.AccessKeys {
		km := KeyMetrics{
			BytesTransferred: k.DataTransferred.Bytes,
			TunnelSeconds:    k.TunnelTime.Seconds,
		}
		if k.Connection.LastTrafficSeen > 0 {
			km.LastTrafficSeen = time.Unix(k.Connection.LastTrafficSeen, 0).UTC()
		}
		metrics.Keys[k.ID] = km
	}
	return metrics
}

// do resolves the server, performs one request and decodes the response.
func (c *OutlineClient) do(ctx context.Context, serverID, method, path string, reqBody, respBody interface{}) error {
	server, err := c.registry.Resolve(serverID)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(server.APIURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient(server).Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrServerUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		return &RemoteAPIError{Status: resp.StatusCode, Body: string(data)}
	}

	if respBody != nil && len(data) > 0 {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("decode response: %w (body: %s)", err, string(data))
		}
	}
	return nil
}

// httpClient returns the per-server client pinned to the server's certificate
// digest. Outline servers use self-signed certificates, so the fingerprint
// replaces CA validation entirely.
func (c *OutlineClient) httpClient(server *models.VPNServer) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[server.ID+"/"+server.CertSHA256]; ok {
		return hc
	}

	fingerprint := strings.ToLower(strings.ReplaceAll(server.CertSHA256, ":", ""))
	tlsConfig := &tls.Config{
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if fingerprint == "" {
				return nil
			}
			for _, raw := range rawCerts {
				sum := sha256.Sum256(raw)
				if hex.EncodeToString(sum[:]) == fingerprint {
					return nil
				}
			}
			return fmt.Errorf("certificate fingerprint mismatch for server %s", server.ID)
		},
	}

	hc := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}
	c.clients[server.ID+"/"+server.CertSHA256] = hc
	return hc
}
