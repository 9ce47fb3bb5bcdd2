package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forumgram/publisher/internal/models"
	"github.com/forumgram/publisher/internal/render"
	"github.com/forumgram/publisher/internal/repository"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContentService owns the authoritative status of every content item and the
// transitions between statuses.
type ContentService interface {
	Enqueue(ctx context.Context, accountID, sourceRef string, scheduledAt time.Time) (*models.ContentItem, error)
	Render(ctx context.Context, itemID string) error
	SelectEligible(ctx context.Context, accountID string, limit int) ([]*models.ContentItem, error)
	Retry(ctx context.Context, itemID string) error
	Cancel(ctx context.Context, itemID string) error
	Remove(ctx context.Context, itemID string) error
	Info(ctx context.Context, itemID string) (*models.ContentItem, error)
	ListByAccount(ctx context.Context, accountID, status string, limit int) ([]*models.ContentItem, error)
}

type contentService struct {
	ci repository.ContentItemRepository
	ar repository.AccountRepository
	rd render.Renderer
	ms MediaService
}

func NewContentService(
	ci repository.ContentItemRepository,
	ar repository.AccountRepository,
	rd render.Renderer,
	ms MediaService) ContentService {
	return &contentService{
		ci: ci,
		ar: ar,
		rd: rd,
		ms: ms,
	}
}

// Enqueue queues a forum post for publishing. A source post can only have one
// active item per account at a time.
func (s *contentService) Enqueue(ctx context.Context, accountID, sourceRef string, scheduledAt time.Time) (*models.ContentItem, error) {
	if sourceRef == "" {
		return nil, fmt.Errorf("source ref is empty")
	}

	account, err := s.ar.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil || !account.IsActive {
		return nil, ErrAccountNotFound
	}

	existing, err := s.ci.GetActiveBySourceRef(ctx, accountID, sourceRef)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		slog.Info("duplicate enqueue rejected", "account_id", accountID, "source_ref", sourceRef)
		return nil, ErrDuplicateItem
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	item := &models.ContentItem{
		ID:          id,
		SourceRef:   sourceRef,
		AccountID:   accountID,
		Status:      models.ItemStatusPending,
		MaxRetries:  models.DefaultMaxRetries,
		ScheduledAt: scheduledAt,
	}

	if _, err := s.ci.Create(ctx, nil, item); err != nil {
		return nil, err
	}

	return item, nil
}

// Render drives pending→rendering→ready through the external renderer. The
// rendered image is mirrored into our bucket; if the mirror fails the
// renderer's own URL is used so a storage hiccup does not fail the item.
func (s *contentService) Render(ctx context.Context, itemID string) error {
	item, err := s.ci.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	if !models.CanTransition(item.Status, models.ItemStatusRendering) {
		return ErrInvalidTransition
	}

	if err := s.ci.UpdateStatus(ctx, models.ItemStatusRendering, itemID); err != nil {
		return err
	}

	rendered, err := s.rd.Render(ctx, item.SourceRef, "")
	if err != nil {
		slog.Error("render failed", "item_id", itemID, "error", err.Error())
		if markErr := s.ci.MarkFailed(ctx, itemID, "render_failed", err.Error()); markErr != nil {
			return markErr
		}
		return err
	}

	imageURL := rendered.ImageURL
	if mirrored, err := s.ms.MirrorImage(ctx, rendered.ImageURL); err != nil {
		slog.Info("image mirror failed, keeping renderer url", "item_id", itemID, "error", err.Error())
	} else {
		imageURL = mirrored
	}

	return s.ci.SetRendered(ctx, itemID, imageURL, rendered.Caption)
}

// SelectEligible returns publishable items oldest first, excluding items
// already assigned to a carousel group.
func (s *contentService) SelectEligible(ctx context.Context, accountID string, limit int) ([]*models.ContentItem, error) {
	return s.ci.ListReadyUngrouped(ctx, accountID, limit)
}

// Retry consumes one attempt and puts a failed item back in the ready queue.
// Carousel members retry as a full group.
func (s *contentService) Retry(ctx context.Context, itemID string) error {
	item, err := s.ci.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	if item.Status != models.ItemStatusFailed {
		return ErrInvalidTransition
	}
	if item.RetriesExhausted() {
		return ErrRetryExhausted
	}

	if item.InCarousel() {
		return s.ci.ResetGroupForRetry(ctx, item.CarouselGroupID)
	}
	return s.ci.ResetForRetry(ctx, itemID)
}

// Cancel is allowed from any non-terminal status. Cancelling a carousel
// member cancels its whole group, since the group publishes as one unit.
func (s *contentService) Cancel(ctx context.Context, itemID string) error {
	item, err := s.ci.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	if !models.CanTransition(item.Status, models.ItemStatusCancelled) {
		return ErrInvalidTransition
	}

	if !item.InCarousel() {
		return s.ci.UpdateStatus(ctx, models.ItemStatusCancelled, itemID)
	}

	members, err := s.ci.ListGroup(ctx, item.CarouselGroupID)
	if err != nil {
		return err
	}
	for _, member := range members {
		if !models.CanTransition(member.Status, models.ItemStatusCancelled) {
			continue
		}
		if err := s.ci.UpdateStatus(ctx, models.ItemStatusCancelled, member.ID); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a terminal item. Failed items are retryable and must be
// cancelled first; the publish history rows are kept either way.
func (s *contentService) Remove(ctx context.Context, itemID string) error {
	item, err := s.ci.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	if !models.IsTerminalStatus(item.Status) {
		return ErrInvalidTransition
	}

	return s.ci.Remove(ctx, itemID)
}

func (s *contentService) Info(ctx context.Context, itemID string) (*models.ContentItem, error) {
	item, err := s.ci.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	return item, nil
}

func (s *contentService) ListByAccount(ctx context.Context, accountID, status string, limit int) ([]*models.ContentItem, error) {
	return s.ci.ListByAccountAndStatus(ctx, accountID, status, limit)
}
