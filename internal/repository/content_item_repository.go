package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/forumgram/publisher/internal/models"
)

// ErrGroupNotReady is returned when a carousel group cannot move to
// publishing because one or more members are not in the ready state.
var ErrGroupNotReady = errors.New("carousel group not fully ready")

type ContentItemRepository interface {
	Create(ctx context.Context, tx *sql.Tx, item *models.ContentItem) (string, error)
	GetByID(ctx context.Context, id string) (*models.ContentItem, error)
	GetActiveBySourceRef(ctx context.Context, accountID, sourceRef string) (*models.ContentItem, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.ContentItem, error)
	ListByAccountAndStatus(ctx context.Context, accountID, status string, limit int) ([]*models.ContentItem, error)
	ListReadyUngrouped(ctx context.Context, accountID string, limit int) ([]*models.ContentItem, error)
	ListRetryable(ctx context.Context, limit int) ([]*models.ContentItem, error)
	ListGroup(ctx context.Context, groupID string) ([]*models.ContentItem, error)
	CountReadyUngrouped(ctx context.Context, accountID string) (int, error)
	UpdateStatus(ctx context.Context, status, id string) error
	SetRendered(ctx context.Context, id, imageURL, caption string) error
	SetContainer(ctx context.Context, id, containerID string) error
	AssignGroup(ctx context.Context, accountID string, size int, groupID string) ([]*models.ContentItem, error)
	MarkPublishing(ctx context.Context, id string) error
	MarkGroupPublishing(ctx context.Context, groupID string) error
	MarkPublished(ctx context.Context, id, mediaID, permalink string) error
	MarkGroupPublished(ctx context.Context, groupID, mediaID, permalink string) error
	MarkFailed(ctx context.Context, id, errorCode, errorMessage string) error
	MarkGroupFailed(ctx context.Context, groupID, errorCode, errorMessage string) error
	ResetForRetry(ctx context.Context, id string) error
	ResetGroupForRetry(ctx context.Context, groupID string) error
	Remove(ctx context.Context, id string) error
}

type contentItemRepository struct {
	db *sql.DB
}

func NewContentItemRepository(db *sql.DB) ContentItemRepository {
	return &contentItemRepository{db: db}
}

const itemColumns = `id, source_ref, account_id, status, image_url, caption,
	carousel_group_id, carousel_position, carousel_total, media_id, container_id, permalink,
	error_code, error_message, retry_count, max_retries, scheduled_at, published_at,
	created_at, updated_at`

func scanItem(row interface{ Scan(...interface{}) error }) (*models.ContentItem, error) {
	var ci models.ContentItem
	err := row.Scan(&ci.ID, &ci.SourceRef, &ci.AccountID, &ci.Status, &ci.ImageURL, &ci.Caption,
		&ci.CarouselGroupID, &ci.CarouselPosition, &ci.CarouselTotal, &ci.MediaID, &ci.ContainerID,
		&ci.Permalink, &ci.ErrorCode, &ci.ErrorMessage, &ci.RetryCount, &ci.MaxRetries,
		&ci.ScheduledAt, &ci.PublishedAt, &ci.CreatedAt, &ci.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ci, nil
}

func (r *contentItemRepository) Create(ctx context.Context, tx *sql.Tx, item *models.ContentItem) (string, error) {
	query := `
		INSERT INTO content_items (id, source_ref, account_id, status, image_url, caption,
			carousel_group_id, carousel_position, carousel_total, max_retries, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id string
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, item.ID, item.SourceRef, item.AccountID, item.Status,
			item.ImageURL, item.Caption, item.CarouselGroupID, item.CarouselPosition, item.CarouselTotal,
			item.MaxRetries, item.ScheduledAt).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, item.ID, item.SourceRef, item.AccountID, item.Status,
			item.ImageURL, item.Caption, item.CarouselGroupID, item.CarouselPosition, item.CarouselTotal,
			item.MaxRetries, item.ScheduledAt).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return id, nil
}

func (r *contentItemRepository) GetByID(ctx context.Context, id string) (*models.ContentItem, error) {
	query := `SELECT ` + itemColumns + ` FROM content_items WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	ci, err := scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return ci, nil
}

// GetActiveBySourceRef ignores published and cancelled items so a source post
// may be queued again once its previous item reached a terminal state.
func (r *contentItemRepository) GetActiveBySourceRef(ctx context.Context, accountID, sourceRef string) (*models.ContentItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM content_items
		WHERE account_id = $1 AND source_ref = $2 AND status NOT IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, accountID, sourceRef, models.ItemStatusPublished, models.ItemStatusCancelled)

	ci, err := scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return ci, nil
}

func (r *contentItemRepository) listQuery(ctx context.Context, query string, args ...interface{}) ([]*models.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var items []*models.ContentItem
	for rows.Next() {
		ci, err := scanItem(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		items = append(items, ci)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return items, nil
}

func (r *contentItemRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.ContentItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM content_items
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`
	return r.listQuery(ctx, query, status, limit)
}

func (r *contentItemRepository) ListByAccountAndStatus(ctx context.Context, accountID, status string, limit int) ([]*models.ContentItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM content_items
		WHERE account_id = $1 AND status = $2
		ORDER BY created_at, id
		LIMIT $3`
	return r.listQuery(ctx, query, accountID, status, limit)
}

// ListReadyUngrouped returns publishable items oldest first. Items already
// assigned to a carousel group are excluded; those republish as a group.
func (r *contentItemRepository) ListReadyUngrouped(ctx context.Context, accountID string, limit int) ([]*models.ContentItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM content_items
		WHERE account_id = $1 AND status = $2 AND carousel_group_id = ''
		ORDER BY created_at, id
		LIMIT $3`
	return r.listQuery(ctx, query, accountID, models.ItemStatusReady, limit)
}

func (r *contentItemRepository) ListRetryable(ctx context.Context, limit int) ([]*models.ContentItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM content_items
		WHERE status = $1 AND retry_count < max_retries AND image_url != ''
		ORDER BY updated_at, id
		LIMIT $2`
	return r.listQuery(ctx, query, models.ItemStatusFailed, limit)
}

func (r *contentItemRepository) ListGroup(ctx context.Context, groupID string) ([]*models.ContentItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM content_items
		WHERE carousel_group_id = $1
		ORDER BY carousel_position`
	return r.listQuery(ctx, query, groupID)
}

func (r *contentItemRepository) CountReadyUngrouped(ctx context.Context, accountID string) (int, error) {
	query := `SELECT COUNT(*) FROM content_items WHERE account_id = $1 AND status = $2 AND carousel_group_id = ''`

	var count int
	err := r.db.QueryRowContext(ctx, query, accountID, models.ItemStatusReady).Scan(&count)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return count, nil
}

func (r *contentItemRepository) UpdateStatus(ctx context.Context, status, id string) error {
	query := `
		UPDATE content_items
		SET status = $1,
			updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *contentItemRepository) SetRendered(ctx context.Context, id, imageURL, caption string) error {
	query := `
		UPDATE content_items
		SET status = $1,
			image_url = $2,
			caption = $3,
			updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.ItemStatusReady, imageURL, caption, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *contentItemRepository) SetContainer(ctx context.Context, id, containerID string) error {
	query := `
		UPDATE content_items
		SET container_id = $1,
			updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, containerID, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// AssignGroup atomically claims the oldest `size` ungrouped ready items into a
// new carousel group with sequential positions. Status is left untouched; the
// orchestrator moves the whole group to publishing. If fewer than `size` items
// are available once the rows are locked, nothing is assigned and nil is
// returned, so two concurrent triggers can never split a batch.
func (r *contentItemRepository) AssignGroup(ctx context.Context, accountID string, size int, groupID string) ([]*models.ContentItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + itemColumns + `
		FROM content_items
		WHERE account_id = $1 AND status = $2 AND carousel_group_id = ''
		ORDER BY created_at, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, query, accountID, models.ItemStatusReady, size)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	var items []*models.ContentItem
	for rows.Next() {
		ci, err := scanItem(rows)
		if err != nil {
			rows.Close()
			slog.Info(err.Error())
			return nil, err
		}
		items = append(items, ci)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	if len(items) < size {
		return nil, nil
	}

	updateQuery := `
		UPDATE content_items
		SET carousel_group_id = $1,
			carousel_position = $2,
			carousel_total = $3,
			updated_at = $4
		WHERE id = $5
	`
	now := time.Now()
	for i, ci := range items {
		if _, err := tx.ExecContext(ctx, updateQuery, groupID, i+1, len(items), now, ci.ID); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		ci.CarouselGroupID = groupID
		ci.CarouselPosition = i + 1
		ci.CarouselTotal = len(items)
	}

	if err := tx.Commit(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return items, nil
}

func (r *contentItemRepository) MarkPublishing(ctx context.Context, id string) error {
	query := `
		UPDATE content_items
		SET status = $1,
			updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, models.ItemStatusPublishing, time.Now(), id, models.ItemStatusReady)
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

// MarkGroupPublishing moves every member of the group to publishing in one
// transaction. The whole group must still be ready or nothing moves.
func (r *contentItemRepository) MarkGroupPublishing(ctx context.Context, groupID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_items WHERE carousel_group_id = $1`, groupID).Scan(&total); err != nil {
		slog.Info(err.Error())
		return err
	}
	if total == 0 {
		return sql.ErrNoRows
	}

	query := `
		UPDATE content_items
		SET status = $1,
			updated_at = $2
		WHERE carousel_group_id = $3 AND status = $4
	`
	result, err := tx.ExecContext(ctx, query, models.ItemStatusPublishing, time.Now(), groupID, models.ItemStatusReady)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if int(affected) != total {
		return ErrGroupNotReady
	}

	if err := tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}

func (r *contentItemRepository) MarkPublished(ctx context.Context, id, mediaID, permalink string) error {
	query := `
		UPDATE content_items
		SET status = $1,
			media_id = $2,
			permalink = $3,
			error_code = '',
			error_message = '',
			published_at = $4,
			updated_at = $4
		WHERE id = $5 AND status = $6
	`
	_, err := r.db.ExecContext(ctx, query, models.ItemStatusPublished, mediaID, permalink, time.Now(), id, models.ItemStatusPublishing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *contentItemRepository) MarkGroupPublished(ctx context.Context, groupID, mediaID, permalink string) error {
	query := `
		UPDATE content_items
		SET status = $1,
			media_id = $2,
			permalink = $3,
			error_code = '',
			error_message = '',
			published_at = $4,
			updated_at = $4
		WHERE carousel_group_id = $5 AND status = $6
	`
	_, err := r.db.ExecContext(ctx, query, models.ItemStatusPublished, mediaID, permalink, time.Now(), groupID, models.ItemStatusPublishing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// MarkFailed records the failure without consuming a retry attempt; the
// attempt counter moves when the item is explicitly retried.
func (r *contentItemRepository) MarkFailed(ctx context.Context, id, errorCode, errorMessage string) error {
	query := `
		UPDATE content_items
		SET status = $1,
			error_code = $2,
			error_message = $3,
			updated_at = $4
		WHERE id = $5 AND status IN ($6, $7)
	`
	_, err := r.db.ExecContext(ctx, query, models.ItemStatusFailed, errorCode, errorMessage, time.Now(),
		id, models.ItemStatusRendering, models.ItemStatusPublishing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *contentItemRepository) MarkGroupFailed(ctx context.Context, groupID, errorCode, errorMessage string) error {
	query := `
		UPDATE content_items
		SET status = $1,
			error_code = $2,
			error_message = $3,
			updated_at = $4
		WHERE carousel_group_id = $5 AND status = $6
	`
	_, err := r.db.ExecContext(ctx, query, models.ItemStatusFailed, errorCode, errorMessage, time.Now(), groupID, models.ItemStatusPublishing)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ResetForRetry puts a failed item back in the ready queue and consumes one
// retry attempt.
func (r *contentItemRepository) ResetForRetry(ctx context.Context, id string) error {
	query := `
		UPDATE content_items
		SET status = $1,
			error_code = '',
			error_message = '',
			retry_count = retry_count + 1,
			updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, models.ItemStatusReady, time.Now(), id, models.ItemStatusFailed)
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

func (r *contentItemRepository) ResetGroupForRetry(ctx context.Context, groupID string) error {
	query := `
		UPDATE content_items
		SET status = $1,
			error_code = '',
			error_message = '',
			retry_count = retry_count + 1,
			updated_at = $2
		WHERE carousel_group_id = $3 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.ItemStatusReady, time.Now(), groupID, models.ItemStatusFailed)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *contentItemRepository) Remove(ctx context.Context, id string) error {
	query := `DELETE FROM content_items WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
