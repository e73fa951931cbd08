package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okeeper/vpn-access-service/internal/models"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, telegram_id, username, is_active, is_admin, is_subscribed,
	subscription_checked_at, created_at, updated_at`

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE telegram_id = $1`, userColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, telegramID))
}

// EnsureByTelegramID creates the user on first contact. The upsert keeps the
// username fresh without touching flags owned by other paths.
func (r *UserRepository) EnsureByTelegramID(ctx context.Context, telegramID, username string) (*models.User, error) {
	query := fmt.Sprintf(`
		INSERT INTO users (id, telegram_id, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username, updated_at = NOW()
		RETURNING %s
	`, userColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, uuid.New().String(), telegramID, username))
}

func (r *UserRepository) ListActive(ctx context.Context) ([]*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE is_active = TRUE ORDER BY created_at`, userColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *UserRepository) UpdateSubscription(ctx context.Context, id string, isSubscribed bool, checkedAt time.Time) error {
	query := `
		UPDATE users
		SET is_subscribed = $1, subscription_checked_at = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := r.pool.Exec(ctx, query, isSubscribed, checkedAt, id)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return nil
}

func (r *UserRepository) scanOne(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID, &u.TelegramID, &u.Username, &u.IsActive, &u.IsAdmin, &u.IsSubscribed,
		&u.SubscriptionCheckedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) scanMany(rows pgx.Rows) ([]*models.User, error) {
	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		err := rows.Scan(
			&u.ID, &u.TelegramID, &u.Username, &u.IsActive, &u.IsAdmin, &u.IsSubscribed,
			&u.SubscriptionCheckedAt, &u.CreatedAt, &u.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
