package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/forumgram/publisher/internal/models"
	"github.com/lib/pq"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByExternalUserID(ctx context.Context, externalUserID string) (*models.Account, error)
	Create(ctx context.Context, a *models.Account) (string, error)
	ListActive(ctx context.Context) ([]*models.Account, error)
	ListTokenExpiring(ctx context.Context, before time.Time) ([]*models.Account, error)
	SetToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error
	SetPublishOutcome(ctx context.Context, id string, publishedAt time.Time, lastError string) error
	Deactivate(ctx context.Context, id string) error
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, external_user_id, access_token, token_expires_at, last_token_refresh,
	publish_policy, batch_size, scheduled_times, is_active, last_publish_at, last_error,
	created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.ExternalUserID, &a.AccessToken, &a.TokenExpiresAt, &a.LastTokenRefresh,
		&a.PublishPolicy, &a.BatchSize, pq.Array(&a.ScheduledTimes), &a.IsActive, &a.LastPublishAt,
		&a.LastError, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountRepository) Create(ctx context.Context, a *models.Account) (string, error) {
	query := `
		INSERT INTO accounts (id, external_user_id, access_token, token_expires_at, last_token_refresh,
			publish_policy, batch_size, scheduled_times, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		a.ID,
		a.ExternalUserID,
		a.AccessToken,
		a.TokenExpiresAt,
		a.LastTokenRefresh,
		a.PublishPolicy,
		a.BatchSize,
		pq.Array(a.ScheduledTimes),
		a.IsActive,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return id, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return a, nil
}

func (r *accountRepository) GetByExternalUserID(ctx context.Context, externalUserID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE external_user_id = $1`
	row := r.db.QueryRowContext(ctx, query, externalUserID)

	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return a, nil
}

func (r *accountRepository) ListActive(ctx context.Context) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE is_active = true`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return accounts, nil
}

func (r *accountRepository) ListTokenExpiring(ctx context.Context, before time.Time) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE is_active = true AND token_expires_at < $1`
	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return accounts, nil
}

func (r *accountRepository) SetToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error {
	query := `
		UPDATE accounts
		SET access_token = $2,
			token_expires_at = $3,
			last_token_refresh = $4,
			updated_at = $4
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, accessToken, expiresAt, time.Now())
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *accountRepository) SetPublishOutcome(ctx context.Context, id string, publishedAt time.Time, lastError string) error {
	query := `
		UPDATE accounts
		SET last_publish_at = $2,
			last_error = $3,
			updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, publishedAt, lastError, time.Now())
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// Deactivate is a soft delete. Rows are never removed while content items
// reference them; the pipeline simply stops considering the account.
func (r *accountRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET is_active = false,
			updated_at = $2
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
