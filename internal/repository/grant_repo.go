package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okeeper/vpn-access-service/internal/models"
)

type GrantRepository struct {
	pool *pgxpool.Pool
}

func NewGrantRepository(pool *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{pool: pool}
}

const grantColumns = `id, config_id, user_id, server_id, config_data, is_active, created_at, last_used_at`

// Create inserts a new grant. A unique-violation on the partial index means a
// concurrent request already activated a grant for this user and is surfaced
// as ErrActiveGrantExists.
func (r *GrantRepository) Create(ctx context.Context, g *models.AccessGrant) error {
	query := `
		INSERT INTO access_grants (id, config_id, user_id, server_id, config_data, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query, g.ID, g.ConfigID, g.UserID, g.ServerID, g.ConfigData, g.IsActive)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveGrantExists
		}
		return fmt.Errorf("insert access_grant: %w", err)
	}
	return nil
}

func (r *GrantRepository) GetActiveByUser(ctx context.Context, userID string) (*models.AccessGrant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM access_grants
		WHERE user_id = $1 AND is_active = TRUE
		LIMIT 1
	`, grantColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, userID))
}

func (r *GrantRepository) GetActiveByServerAndConfigID(ctx context.Context, serverID, configID string) (*models.AccessGrant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM access_grants
		WHERE server_id = $1 AND config_id = $2 AND is_active = TRUE
		LIMIT 1
	`, grantColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, serverID, configID))
}

func (r *GrantRepository) ListActive(ctx context.Context) ([]*models.AccessGrant, error) {
	query := fmt.Sprintf(`SELECT %s FROM access_grants WHERE is_active = TRUE ORDER BY created_at`, grantColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active grants: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *GrantRepository) ListActiveByServer(ctx context.Context, serverID string) ([]*models.AccessGrant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM access_grants
		WHERE server_id = $1 AND is_active = TRUE
		ORDER BY created_at
	`, grantColumns)
	rows, err := r.pool.Query(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("list active grants by server: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// Deactivate is the only state transition a grant ever makes.
func (r *GrantRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE access_grants SET is_active = FALSE WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate access_grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GrantRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE access_grants SET last_used_at = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("touch last_used_at: %w", err)
	}
	return nil
}

func (r *GrantRepository) scanOne(row pgx.Row) (*models.AccessGrant, error) {
	g := &models.AccessGrant{}
	err := row.Scan(
		&g.ID, &g.ConfigID, &g.UserID, &g.ServerID, &g.ConfigData,
		&g.IsActive, &g.CreatedAt, &g.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan access_grant: %w", err)
	}
	return g, nil
}

func (r *GrantRepository) scanMany(rows pgx.Rows) ([]*models.AccessGrant, error) {
	var grants []*models.AccessGrant
	for rows.Next() {
		g := &models.AccessGrant{}
		err := rows.Scan(
			&g.ID, &g.ConfigID, &g.UserID, &g.ServerID, &g.ConfigData,
			&g.IsActive, &g.CreatedAt, &g.LastUsedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan access_grant row: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
