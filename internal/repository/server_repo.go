package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okeeper/vpn-access-service/internal/models"
)

type ServerRepository struct {
	pool *pgxpool.Pool
}

func NewServerRepository(pool *pgxpool.Pool) *ServerRepository {
	return &ServerRepository{pool: pool}
}

const serverColumns = `id, name, location, api_url, cert_sha256, is_active, created_at, updated_at`

func (r *ServerRepository) GetByID(ctx context.Context, id string) (*models.VPNServer, error) {
	query := fmt.Sprintf(`SELECT %s FROM vpn_servers WHERE id = $1`, serverColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *ServerRepository) ListActive(ctx context.Context) ([]*models.VPNServer, error) {
	query := fmt.Sprintf(`SELECT %s FROM vpn_servers WHERE is_active = TRUE ORDER BY created_at`, serverColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active servers: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *ServerRepository) Create(ctx context.Context, s *models.VPNServer) error {
	query := `
		INSERT INTO vpn_servers (id, name, location, api_url, cert_sha256, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query, s.ID, s.Name, s.Location, s.APIURL, s.CertSHA256, s.IsActive)
	if err != nil {
		return fmt.Errorf("insert vpn_server: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a server. Rows are never removed so that historical
// grants keep a valid server reference.
func (r *ServerRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE vpn_servers SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate vpn_server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ServerRepository) scanOne(row pgx.Row) (*models.VPNServer, error) {
	s := &models.VPNServer{}
	err := row.Scan(
		&s.ID, &s.Name, &s.Location, &s.APIURL, &s.CertSHA256,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan vpn_server: %w", err)
	}
	return s, nil
}

func (r *ServerRepository) scanMany(rows pgx.Rows) ([]*models.VPNServer, error) {
	var servers []*models.VPNServer
	for rows.Next() {
		s := &models.VPNServer{}
		err := rows.Scan(
			&s.ID, &s.Name, &s.Location, &s.APIURL, &s.CertSHA256,
			&s.IsActive, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vpn_server row: %w", err)
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}
