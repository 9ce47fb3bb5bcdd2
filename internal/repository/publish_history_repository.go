package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/forumgram/publisher/internal/models"
)

type PublishHistoryRepository interface {
	Create(ctx context.Context, ph *models.PublishHistory) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PublishHistory, error)
	ListByAccountID(ctx context.Context, accountID string, limit int) ([]*models.PublishHistory, error)
}

type publishHistoryRepository struct {
	db *sql.DB
}

func NewPublishHistoryRepository(db *sql.DB) PublishHistoryRepository {
	return &publishHistoryRepository{db: db}
}

func (r *publishHistoryRepository) Create(ctx context.Context, ph *models.PublishHistory) (int64, error) {
	query := `
		INSERT INTO publish_history (account_id, item_id, carousel_group_id, item_count, success, media_id, error_kind, error_message, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, ph.AccountID, ph.ItemID, ph.CarouselGroupID, ph.ItemCount,
		ph.Success, ph.MediaID, ph.ErrorKind, ph.ErrorMessage, ph.DurationMS).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *publishHistoryRepository) GetByID(ctx context.Context, id int64) (*models.PublishHistory, error) {
	query := `SELECT id, account_id, item_id, carousel_group_id, item_count, success, media_id, error_kind, error_message, duration_ms, created_at
		FROM publish_history WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var ph models.PublishHistory
	err := row.Scan(&ph.ID, &ph.AccountID, &ph.ItemID, &ph.CarouselGroupID, &ph.ItemCount,
		&ph.Success, &ph.MediaID, &ph.ErrorKind, &ph.ErrorMessage, &ph.DurationMS, &ph.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &ph, nil
}

func (r *publishHistoryRepository) ListByAccountID(ctx context.Context, accountID string, limit int) ([]*models.PublishHistory, error) {
	query := `SELECT id, account_id, item_id, carousel_group_id, item_count, success, media_id, error_kind, error_message, duration_ms, created_at
		FROM publish_history
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var phs []*models.PublishHistory
	for rows.Next() {
		var ph models.PublishHistory
		err := rows.Scan(&ph.ID, &ph.AccountID, &ph.ItemID, &ph.CarouselGroupID, &ph.ItemCount,
			&ph.Success, &ph.MediaID, &ph.ErrorKind, &ph.ErrorMessage, &ph.DurationMS, &ph.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		phs = append(phs, &ph)
	}
	return phs, nil
}
