package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/forumgram/publisher/internal/models"
)

// Memory-backed implementations of the repository interfaces. They keep the
// same claim and guard semantics as the Postgres versions and back tests and
// local development without a database.

type memoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func NewMemoryAccountRepository() AccountRepository {
	return &memoryAccountRepository{accounts: make(map[string]*models.Account)}
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	c.ScheduledTimes = append([]string(nil), a.ScheduledTimes...)
	return &c
}

func (r *memoryAccountRepository) Create(ctx context.Context, a *models.Account) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[a.ID]; ok {
		return "", errors.New("account already exists")
	}

	c := copyAccount(a)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt
	r.accounts[c.ID] = c
	return c.ID, nil
}

func (r *memoryAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	return copyAccount(a), nil
}

func (r *memoryAccountRepository) GetByExternalUserID(ctx context.Context, externalUserID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.ExternalUserID == externalUserID {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (r *memoryAccountRepository) ListActive(ctx context.Context) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var accounts []*models.Account
	for _, a := range r.accounts {
		if a.IsActive {
			accounts = append(accounts, copyAccount(a))
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (r *memoryAccountRepository) ListTokenExpiring(ctx context.Context, before time.Time) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var accounts []*models.Account
	for _, a := range r.accounts {
		if a.IsActive && a.TokenExpiresAt.Before(before) {
			accounts = append(accounts, copyAccount(a))
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (r *memoryAccountRepository) SetToken(ctx context.Context, id, accessToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.AccessToken = accessToken
	a.TokenExpiresAt = expiresAt
	a.LastTokenRefresh = time.Now()
	a.UpdatedAt = a.LastTokenRefresh
	return nil
}

func (r *memoryAccountRepository) SetPublishOutcome(ctx context.Context, id string, publishedAt time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.LastPublishAt = publishedAt
	a.LastError = lastError
	a.UpdatedAt = time.Now()
	return nil
}

func (r *memoryAccountRepository) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.IsActive = false
	a.UpdatedAt = time.Now()
	return nil
}

type memoryContentItemRepository struct {
	mu    sync.Mutex
	items map[string]*models.ContentItem
}

func NewMemoryContentItemRepository() ContentItemRepository {
	return &memoryContentItemRepository{items: make(map[string]*models.ContentItem)}
}

func copyItem(ci *models.ContentItem) *models.ContentItem {
	c := *ci
	return &c
}

// oldestFirst orders by creation time with the item ID as tie-break, the same
// order the SQL claim queries use.
func oldestFirst(items []*models.ContentItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func (r *memoryContentItemRepository) readyUngroupedLocked(accountID string) []*models.ContentItem {
	var ready []*models.ContentItem
	for _, ci := range r.items {
		if ci.AccountID == accountID && ci.Status == models.ItemStatusReady && ci.CarouselGroupID == "" {
			ready = append(ready, ci)
		}
	}
	oldestFirst(ready)
	return ready
}

func (r *memoryContentItemRepository) Create(ctx context.Context, tx *sql.Tx, item *models.ContentItem) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[item.ID]; ok {
		return "", errors.New("item already exists")
	}

	c := copyItem(item)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt
	r.items[c.ID] = c
	return c.ID, nil
}

func (r *memoryContentItemRepository) GetByID(ctx context.Context, id string) (*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return copyItem(ci), nil
}

func (r *memoryContentItemRepository) GetActiveBySourceRef(ctx context.Context, accountID, sourceRef string) (*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ci := range r.items {
		if ci.AccountID == accountID && ci.SourceRef == sourceRef && !models.IsTerminalStatus(ci.Status) {
			return copyItem(ci), nil
		}
	}
	return nil, nil
}

func (r *memoryContentItemRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*models.ContentItem
	for _, ci := range r.items {
		if ci.Status == status {
			items = append(items, copyItem(ci))
		}
	}
	oldestFirst(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *memoryContentItemRepository) ListByAccountAndStatus(ctx context.Context, accountID, status string, limit int) ([]*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*models.ContentItem
	for _, ci := range r.items {
		if ci.AccountID == accountID && ci.Status == status {
			items = append(items, copyItem(ci))
		}
	}
	oldestFirst(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *memoryContentItemRepository) ListReadyUngrouped(ctx context.Context, accountID string, limit int) ([]*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ready := r.readyUngroupedLocked(accountID)
	items := make([]*models.ContentItem, 0, len(ready))
	for _, ci := range ready {
		items = append(items, copyItem(ci))
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (r *memoryContentItemRepository) ListRetryable(ctx context.Context, limit int) ([]*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*models.ContentItem
	for _, ci := range r.items {
		if ci.Status == models.ItemStatusFailed && ci.RetryCount < ci.MaxRetries && ci.ImageURL != "" {
			items = append(items, copyItem(ci))
		}
	}
	oldestFirst(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *memoryContentItemRepository) ListGroup(ctx context.Context, groupID string) ([]*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*models.ContentItem
	for _, ci := range r.items {
		if ci.CarouselGroupID == groupID {
			items = append(items, copyItem(ci))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CarouselPosition < items[j].CarouselPosition })
	return items, nil
}

func (r *memoryContentItemRepository) CountReadyUngrouped(ctx context.Context, accountID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.readyUngroupedLocked(accountID)), nil
}

func (r *memoryContentItemRepository) UpdateStatus(ctx context.Context, status, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci, ok := r.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	ci.Status = status
	ci.UpdatedAt = time.Now()
	return nil
}

func (r *memoryContentItemRepository) SetRendered(ctx context.Context, id, imageURL, caption string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci, ok := r.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	ci.Status = models.ItemStatusReady
	ci.ImageURL = imageURL
	ci.Caption = caption
	ci.UpdatedAt = time.Now()
	return nil
}

func (r *memoryContentItemRepository) SetContainer(ctx context.Context, id, containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci, ok := r.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	ci.ContainerID = containerID
	ci.UpdatedAt = time.Now()
	return nil
}

func (r *memoryContentItemRepository) AssignGroup(ctx context.Context, accountID string, size int, groupID string) ([]*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ready := r.readyUngroupedLocked(accountID)
	if len(ready) < size {
		return nil, nil
	}

	now := time.Now()
	assigned := make([]*models.ContentItem, 0, size)
	for i, ci := range ready[:size] {
		ci.CarouselGroupID = groupID
		ci.CarouselPosition = i + 1
		ci.CarouselTotal = size
		ci.UpdatedAt = now
		assigned = append(assigned, copyItem(ci))
	}
	return assigned, nil
}

func (r *memoryContentItemRepository) MarkPublishing(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci, ok := r.items[id]
	if !ok || ci.Status != models.ItemStatusReady {
		return sql.ErrNoRows
	}
	ci.Status = models.ItemStatusPublishing
	ci.UpdatedAt = time.Now()
	return nil
}

func (r *memoryContentItemRepository) MarkGroupPublishing(ctx context.Context, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var members []*models.ContentItem
	for _, ci := range r.items {
		if ci.CarouselGroupID == groupID {
			members = append(members, ci)
		}
	}
	if len(members) == 0 {
		return sql.ErrNoRows
	}
	for _, ci := range members {
		if ci.Status != models.ItemStatusReady {
			return ErrGroupNotReady
		}
	}

	now := time.Now()
	for _, ci := range members {
		ci.Status = models.ItemStatusPublishing
		ci.UpdatedAt = now
	}
	return nil
}

func (r *memoryContentItemRepository) MarkPublished(ctx context.Context, id, mediaID, permalink string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci, ok := r.items[id]
	if !ok || ci.Status != models.ItemStatusPublishing {
		return nil
	}
	now := time.Now()
	ci.Status = models.ItemStatusPublished
	ci.MediaID = mediaID
	ci.Permalink = permalink
	ci.ErrorCode = ""
	ci.ErrorMessage = ""
	ci.PublishedAt = now
	ci.UpdatedAt = now
	return nil
}

func (r *memoryContentItemRepository) MarkGroupPublished(ctx context.Context, groupID, mediaID, permalink string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, ci := range r.items {
		if ci.CarouselGroupID == groupID && ci.Status == models.ItemStatusPublishing {
			ci.Status = models.ItemStatusPublished
			ci.MediaID = mediaID
			ci.Permalink = permalink
			ci.ErrorCode = ""
			ci.ErrorMessage = ""
			ci.PublishedAt = now
			ci.UpdatedAt = now
		}
	}
	return nil
}

func (r *memoryContentItemRepository) MarkFailed(ctx context.Context, id, errorCode, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci, ok := r.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	if ci.Status != models.ItemStatusRendering && ci.Status != models.ItemStatusPublishing {
		return nil
	}
	ci.Status = models.ItemStatusFailed
	ci.ErrorCode = errorCode
	ci.ErrorMessage = errorMessage
	ci.UpdatedAt = time.Now()
	return nil
}

func (r *memoryContentItemRepository) MarkGroupFailed(ctx context.Context, groupID, errorCode, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, ci := range r.items {
		if ci.CarouselGroupID == groupID && ci.Status == models.ItemStatusPublishing {
			ci.Status = models.ItemStatusFailed
			ci.ErrorCode = errorCode
			ci.ErrorMessage = errorMessage
			ci.UpdatedAt = now
		}
	}
	return nil
}

func (r *memoryContentItemRepository) ResetForRetry(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci, ok := r.items[id]
	if !ok || ci.Status != models.ItemStatusFailed {
		return sql.ErrNoRows
	}
	ci.Status = models.ItemStatusReady
	ci.ErrorCode = ""
	ci.ErrorMessage = ""
	ci.RetryCount++
	ci.UpdatedAt = time.Now()
	return nil
}

func (r *memoryContentItemRepository) ResetGroupForRetry(ctx context.Context, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, ci := range r.items {
		if ci.CarouselGroupID == groupID && ci.Status == models.ItemStatusFailed {
			ci.Status = models.ItemStatusReady
			ci.ErrorCode = ""
			ci.ErrorMessage = ""
			ci.RetryCount++
			ci.UpdatedAt = now
		}
	}
	return nil
}

func (r *memoryContentItemRepository) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
	return nil
}

type memoryPublishHistoryRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.PublishHistory
}

func NewMemoryPublishHistoryRepository() PublishHistoryRepository {
	return &memoryPublishHistoryRepository{}
}

func (r *memoryPublishHistoryRepository) Create(ctx context.Context, ph *models.PublishHistory) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	c := *ph
	c.ID = r.nextID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.rows = append(r.rows, &c)
	return c.ID, nil
}

func (r *memoryPublishHistoryRepository) GetByID(ctx context.Context, id int64) (*models.PublishHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ph := range r.rows {
		if ph.ID == id {
			c := *ph
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memoryPublishHistoryRepository) ListByAccountID(ctx context.Context, accountID string, limit int) ([]*models.PublishHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var phs []*models.PublishHistory
	for i := len(r.rows) - 1; i >= 0 && len(phs) < limit; i-- {
		if r.rows[i].AccountID == accountID {
			c := *r.rows[i]
			phs = append(phs, &c)
		}
	}
	return phs, nil
}
