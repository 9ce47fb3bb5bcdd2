package service

import (
	"context"
	"log/slog"

	"github.com/forumgram/publisher/internal/models"
	"github.com/forumgram/publisher/internal/repository"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// BatchService decides when enough ready items exist to form a carousel and
// claims them into a group.
type BatchService interface {
	CheckBatchReady(ctx context.Context, accountID string) (bool, error)
	CreateBatch(ctx context.Context, accountID string, size int) (string, error)
}

type batchService struct {
	ci repository.ContentItemRepository
	ar repository.AccountRepository
}

func NewBatchService(ci repository.ContentItemRepository, ar repository.AccountRepository) BatchService {
	return &batchService{
		ci: ci,
		ar: ar,
	}
}

func (s *batchService) CheckBatchReady(ctx context.Context, accountID string) (bool, error) {
	account, err := s.ar.GetByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	if account == nil {
		return false, ErrAccountNotFound
	}
	if account.PublishPolicy != models.PolicyBatch {
		return false, nil
	}

	count, err := s.ci.CountReadyUngrouped(ctx, accountID)
	if err != nil {
		return false, err
	}

	return count >= account.BatchSize, nil
}

// CreateBatch claims exactly `size` oldest ungrouped ready items into a new
// carousel group and returns the group ID. The claim re-checks availability
// under the row locks, so concurrent triggers cannot double-claim items.
func (s *batchService) CreateBatch(ctx context.Context, accountID string, size int) (string, error) {
	if size < models.MinCarouselSize || size > models.MaxCarouselSize {
		return "", ErrCarouselSize
	}

	groupID, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	items, err := s.ci.AssignGroup(ctx, accountID, size, groupID)
	if err != nil {
		return "", err
	}
	if items == nil {
		return "", ErrInsufficientItems
	}

	slog.Info("carousel batch created", "account_id", accountID, "group_id", groupID, "size", len(items))
	return groupID, nil
}
