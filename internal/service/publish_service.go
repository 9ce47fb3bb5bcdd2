package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	config "github.com/forumgram/publisher/configs"
	"github.com/forumgram/publisher/internal/instagram"
	"github.com/forumgram/publisher/internal/locks"
	"github.com/forumgram/publisher/internal/models"
	"github.com/forumgram/publisher/internal/repository"
	"github.com/forumgram/publisher/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Result is the outcome of one publish operation.
type Result struct {
	Success   bool
	MediaID   string
	Permalink string
	ErrorKind instagram.ErrorKind
	Message   string
}

// PublishService drives one account's pending work through the platform's
// container/publish protocol. Every operation serializes on the account lock;
// a busy account returns ErrAccountBusy immediately instead of queueing.
type PublishService interface {
	PublishSingle(ctx context.Context, itemID string) (*Result, error)
	PublishCarousel(ctx context.Context, groupID string) (*Result, error)
	PublishDirect(ctx context.Context, job *transfer.PublishRequest) (*Result, error)
}

type publishService struct {
	cfg   config.Config
	ci    repository.ContentItemRepository
	ar    repository.AccountRepository
	ph    repository.PublishHistoryRepository
	ig    GraphClient
	ms    MediaService
	tk    TokenService
	locks *locks.Registry
}

func NewPublishService(
	cfg config.Config,
	ci repository.ContentItemRepository,
	ar repository.AccountRepository,
	ph repository.PublishHistoryRepository,
	ig GraphClient,
	ms MediaService,
	tk TokenService,
	locks *locks.Registry) PublishService {
	return &publishService{
		cfg:   cfg,
		ci:    ci,
		ar:    ar,
		ph:    ph,
		ig:    ig,
		ms:    ms,
		tk:    tk,
		locks: locks,
	}
}

// shouldRetry reports whether the same platform call may be re-attempted in
// place. Only rate limiting and the media-not-ready publish race retry here;
// token errors surface for refresh, content errors are permanent, and
// network/timeout/unknown wait for an item-level retry.
func shouldRetry(kind instagram.ErrorKind, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	return kind == instagram.KindRateLimit || kind == instagram.KindMediaNotReady
}

// BackoffDelay is the wait before attempt n+1: 2^attempt * base.
func BackoffDelay(attempt int, base time.Duration) time.Duration {
	return time.Duration(1<<uint(attempt)) * base
}

func errKind(err error) instagram.ErrorKind {
	var pe *instagram.PlatformError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return instagram.KindUnknown
}

// withRetry runs one platform call, re-attempting in place per shouldRetry
// with exponential backoff between attempts.
func (s *publishService) withRetry(ctx context.Context, call func() (string, error)) (string, error) {
	for attempt := 0; ; attempt++ {
		result, err := call()
		if err == nil {
			return result, nil
		}

		kind := errKind(err)
		if !shouldRetry(kind, attempt, s.cfg.MaxRetries) {
			return "", err
		}

		delay := BackoffDelay(attempt, s.cfg.BackoffBase)
		slog.Info("transient platform error, backing off", "kind", string(kind), "delay", delay.String())
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *publishService) PublishSingle(ctx context.Context, itemID string) (*Result, error) {
	item, err := s.ci.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}

	account, err := s.ar.GetByID(ctx, item.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	if !s.locks.TryAcquire(account.ID) {
		return nil, ErrAccountBusy
	}
	defer s.locks.Release(account.ID)

	token, err := s.tk.GetValidToken(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	if err := s.ci.MarkPublishing(ctx, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	started := time.Now()
	mediaID, permalink, err := s.runSingleProtocol(ctx, account.ExternalUserID, token, item)
	if err != nil {
		return s.failSingle(ctx, account, item, err, started)
	}

	if err := s.ci.MarkPublished(ctx, itemID, mediaID, permalink); err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, account, &models.PublishHistory{
		AccountID:  account.ID,
		ItemID:     itemID,
		ItemCount:  1,
		Success:    true,
		MediaID:    mediaID,
		DurationMS: time.Since(started).Milliseconds(),
	})

	slog.Info("item published", "item_id", itemID, "media_id", mediaID)
	return &Result{Success: true, MediaID: mediaID, Permalink: permalink}, nil
}

func (s *publishService) PublishCarousel(ctx context.Context, groupID string) (*Result, error) {
	items, err := s.ci.ListGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrGroupNotFound
	}

	account, err := s.ar.GetByID(ctx, items[0].AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	if !s.locks.TryAcquire(account.ID) {
		return nil, ErrAccountBusy
	}
	defer s.locks.Release(account.ID)

	token, err := s.tk.GetValidToken(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	if err := s.ci.MarkGroupPublishing(ctx, groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		if errors.Is(err, repository.ErrGroupNotReady) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	started := time.Now()
	mediaID, permalink, err := s.runCarouselProtocol(ctx, account.ExternalUserID, token, items, combineCaptions(items))
	if err != nil {
		return s.failGroup(ctx, account, account.ID, groupID, len(items), err, started)
	}

	if err := s.ci.MarkGroupPublished(ctx, groupID, mediaID, permalink); err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, account, &models.PublishHistory{
		AccountID:       account.ID,
		CarouselGroupID: groupID,
		ItemCount:       len(items),
		Success:         true,
		MediaID:         mediaID,
		DurationMS:      time.Since(started).Milliseconds(),
	})

	slog.Info("carousel published", "group_id", groupID, "media_id", mediaID, "items", len(items))
	return &Result{Success: true, MediaID: mediaID, Permalink: permalink}, nil
}

// PublishDirect serves socket jobs that arrive with credentials and rendered
// image URLs. The job is materialized as content items first so a client that
// never receives the final frame can reconcile through the item queries.
func (s *publishService) PublishDirect(ctx context.Context, job *transfer.PublishRequest) (*Result, error) {
	if job.AccountID == "" || job.PageID == "" || job.UserToken == "" {
		return nil, fmt.Errorf("%w: account_id, page_id and user_token are required", ErrValidation)
	}

	urls := job.ImageURLs
	if len(urls) > models.MaxCarouselSize {
		return nil, ErrCarouselSize
	}
	if !job.IsCarousel() {
		single := job.ImageURL
		if single == "" && len(urls) == 1 {
			single = urls[0]
		}
		if single == "" {
			return nil, fmt.Errorf("%w: image_url is required", ErrValidation)
		}
		return s.publishDirectSingle(ctx, job, single)
	}
	return s.publishDirectCarousel(ctx, job, urls)
}

func (s *publishService) publishDirectSingle(ctx context.Context, job *transfer.PublishRequest, imageURL string) (*Result, error) {
	if !s.locks.TryAcquire(job.AccountID) {
		return nil, ErrAccountBusy
	}
	defer s.locks.Release(job.AccountID)

	item, err := s.materializeDirect(ctx, job.AccountID, imageURL, job.Caption, "", 0, 0)
	if err != nil {
		return nil, err
	}
	if err := s.ci.MarkPublishing(ctx, item.ID); err != nil {
		return nil, err
	}

	account, err := s.ar.GetByID(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	mediaID, permalink, err := s.runSingleProtocol(ctx, job.PageID, job.UserToken, item)
	if err != nil {
		return s.failSingle(ctx, account, item, err, started)
	}

	if err := s.ci.MarkPublished(ctx, item.ID, mediaID, permalink); err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, account, &models.PublishHistory{
		AccountID:  job.AccountID,
		ItemID:     item.ID,
		ItemCount:  1,
		Success:    true,
		MediaID:    mediaID,
		DurationMS: time.Since(started).Milliseconds(),
	})

	return &Result{Success: true, MediaID: mediaID, Permalink: permalink}, nil
}

func (s *publishService) publishDirectCarousel(ctx context.Context, job *transfer.PublishRequest, urls []string) (*Result, error) {
	if !s.locks.TryAcquire(job.AccountID) {
		return nil, ErrAccountBusy
	}
	defer s.locks.Release(job.AccountID)

	groupID, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	items := make([]*models.ContentItem, 0, len(urls))
	for i, imageURL := range urls {
		item, err := s.materializeDirect(ctx, job.AccountID, imageURL, job.Caption, groupID, i+1, len(urls))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := s.ci.MarkGroupPublishing(ctx, groupID); err != nil {
		return nil, err
	}

	account, err := s.ar.GetByID(ctx, job.AccountID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	mediaID, permalink, err := s.runCarouselProtocol(ctx, job.PageID, job.UserToken, items, job.Caption)
	if err != nil {
		return s.failGroup(ctx, account, job.AccountID, groupID, len(items), err, started)
	}

	if err := s.ci.MarkGroupPublished(ctx, groupID, mediaID, permalink); err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, account, &models.PublishHistory{
		AccountID:       job.AccountID,
		CarouselGroupID: groupID,
		ItemCount:       len(items),
		Success:         true,
		MediaID:         mediaID,
		DurationMS:      time.Since(started).Milliseconds(),
	})

	return &Result{Success: true, MediaID: mediaID, Permalink: permalink}, nil
}

func (s *publishService) materializeDirect(ctx context.Context, accountID, imageURL, caption, groupID string, position, total int) (*models.ContentItem, error) {
	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	item := &models.ContentItem{
		ID:               id,
		SourceRef:        "direct/" + id,
		AccountID:        accountID,
		Status:           models.ItemStatusReady,
		ImageURL:         imageURL,
		Caption:          caption,
		CarouselGroupID:  groupID,
		CarouselPosition: position,
		CarouselTotal:    total,
		MaxRetries:       models.DefaultMaxRetries,
	}

	if _, err := s.ci.Create(ctx, nil, item); err != nil {
		return nil, err
	}

	return item, nil
}

// runSingleProtocol is the container create/poll/publish sequence for one
// image. Returns the media ID and best-effort permalink.
func (s *publishService) runSingleProtocol(ctx context.Context, userID, token string, item *models.ContentItem) (string, string, error) {
	if err := s.ms.ValidateImageURL(ctx, item.ImageURL); err != nil {
		return "", "", &instagram.PlatformError{Kind: instagram.KindContent, Message: err.Error()}
	}

	containerID, err := s.withRetry(ctx, func() (string, error) {
		return s.ig.CreateContainer(ctx, userID, token, item.ImageURL, item.Caption, false)
	})
	if err != nil {
		return "", "", err
	}
	if err := s.ci.SetContainer(ctx, item.ID, containerID); err != nil {
		slog.Info(err.Error())
	}

	if _, err := s.withRetry(ctx, func() (string, error) {
		return "", s.ig.WaitForContainer(ctx, containerID, token)
	}); err != nil {
		return "", "", err
	}

	mediaID, err := s.withRetry(ctx, func() (string, error) {
		return s.ig.PublishContainer(ctx, userID, token, containerID)
	})
	if err != nil {
		return "", "", err
	}

	permalink, err := s.ig.GetPermalink(ctx, mediaID, token)
	if err != nil {
		slog.Info("permalink fetch failed", "media_id", mediaID, "error", err.Error())
		permalink = ""
	}

	return mediaID, permalink, nil
}

// runCarouselProtocol creates one child container per member, then a parent
// container referencing all children, then publishes the parent.
func (s *publishService) runCarouselProtocol(ctx context.Context, userID, token string, items []*models.ContentItem, caption string) (string, string, error) {
	children := make([]string, 0, len(items))
	for _, item := range items {
		if err := s.ms.ValidateImageURL(ctx, item.ImageURL); err != nil {
			return "", "", &instagram.PlatformError{Kind: instagram.KindContent, Message: err.Error()}
		}

		childID, err := s.withRetry(ctx, func() (string, error) {
			return s.ig.CreateContainer(ctx, userID, token, item.ImageURL, item.Caption, true)
		})
		if err != nil {
			return "", "", err
		}
		if err := s.ci.SetContainer(ctx, item.ID, childID); err != nil {
			slog.Info(err.Error())
		}
		children = append(children, childID)
	}

	parentID, err := s.withRetry(ctx, func() (string, error) {
		return s.ig.CreateCarouselContainer(ctx, userID, token, caption, children)
	})
	if err != nil {
		return "", "", err
	}

	if _, err := s.withRetry(ctx, func() (string, error) {
		return "", s.ig.WaitForContainer(ctx, parentID, token)
	}); err != nil {
		return "", "", err
	}

	mediaID, err := s.withRetry(ctx, func() (string, error) {
		return s.ig.PublishContainer(ctx, userID, token, parentID)
	})
	if err != nil {
		return "", "", err
	}

	permalink, err := s.ig.GetPermalink(ctx, mediaID, token)
	if err != nil {
		slog.Info("permalink fetch failed", "media_id", mediaID, "error", err.Error())
		permalink = ""
	}

	return mediaID, permalink, nil
}

func (s *publishService) failSingle(ctx context.Context, account *models.Account, item *models.ContentItem, cause error, started time.Time) (*Result, error) {
	kind := errKind(cause)
	slog.Error("publish failed", "item_id", item.ID, "kind", string(kind), "error", cause.Error())

	if err := s.ci.MarkFailed(ctx, item.ID, string(kind), cause.Error()); err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, account, &models.PublishHistory{
		AccountID:    item.AccountID,
		ItemID:       item.ID,
		ItemCount:    1,
		ErrorKind:    string(kind),
		ErrorMessage: cause.Error(),
		DurationMS:   time.Since(started).Milliseconds(),
	})

	return &Result{ErrorKind: kind, Message: cause.Error()}, nil
}

func (s *publishService) failGroup(ctx context.Context, account *models.Account, accountID, groupID string, count int, cause error, started time.Time) (*Result, error) {
	kind := errKind(cause)
	slog.Error("carousel publish failed", "group_id", groupID, "kind", string(kind), "error", cause.Error())

	if err := s.ci.MarkGroupFailed(ctx, groupID, string(kind), cause.Error()); err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, account, &models.PublishHistory{
		AccountID:       accountID,
		CarouselGroupID: groupID,
		ItemCount:       count,
		ErrorKind:       string(kind),
		ErrorMessage:    cause.Error(),
		DurationMS:      time.Since(started).Milliseconds(),
	})

	return &Result{ErrorKind: kind, Message: cause.Error()}, nil
}

// recordOutcome writes the audit row and mirrors the latest outcome onto the
// account. Both are best effort; the item status is the source of truth.
func (s *publishService) recordOutcome(ctx context.Context, account *models.Account, row *models.PublishHistory) {
	if account != nil && row.AccountID == "" {
		row.AccountID = account.ID
	}
	if _, err := s.ph.Create(ctx, row); err != nil {
		slog.Info(err.Error())
	}

	if account == nil {
		return
	}
	publishedAt := account.LastPublishAt
	if row.Success {
		publishedAt = time.Now()
	}
	if err := s.ar.SetPublishOutcome(ctx, account.ID, publishedAt, row.ErrorMessage); err != nil {
		slog.Info(err.Error())
	}
}

// combineCaptions joins the distinct member captions for the parent carousel
// container.
func combineCaptions(items []*models.ContentItem) string {
	var parts []string
	seen := make(map[string]struct{})
	for _, item := range items {
		if item.Caption == "" {
			continue
		}
		if _, ok := seen[item.Caption]; ok {
			continue
		}
		seen[item.Caption] = struct{}{}
		parts = append(parts, item.Caption)
	}
	return strings.Join(parts, "\n\n")
}
