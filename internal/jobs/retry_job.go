package job

import (
	"context"
	"errors"
	"log/slog"

	config "github.com/forumgram/publisher/configs"
	"github.com/forumgram/publisher/internal/instagram"
	"github.com/forumgram/publisher/internal/models"
	"github.com/forumgram/publisher/internal/queue"
	"github.com/forumgram/publisher/internal/repository"
	"github.com/forumgram/publisher/internal/service"
	"github.com/hibiken/asynq"
)

const retryScanLimit = 100

// RetryJob sweeps failed items that still have attempts left and puts them
// back through the publish queue.
type RetryJob struct {
	cfg    config.Config
	ci     repository.ContentItemRepository
	ar     repository.AccountRepository
	ct     service.ContentService
	client *asynq.Client
}

func NewRetryJob(
	cfg config.Config,
	ci repository.ContentItemRepository,
	ar repository.AccountRepository,
	ct service.ContentService,
	client *asynq.Client) *RetryJob {
	return &RetryJob{
		cfg: cfg,
		ci: ci,
		ar: ar,
		ct: ct,
		client: client,
	}
}

func (r *RetryJob) RetryFailedItems() {
	ctx := context.Background()

	items, err := r.ci.ListRetryable(ctx, retryScanLimit)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	accounts := make(map[string]*models.Account)
	seenGroups := make(map[string]struct{})

	for _, item := range items {
		if !retryWorthwhile(ctx, r.ar, accounts, item) {
			continue
		}
		if item.InCarousel() {
			// One reset covers the whole group.
			if _, seen := seenGroups[item.CarouselGroupID]; seen {
				continue
			}
			seenGroups[item.CarouselGroupID] = struct{}{}
		}

		if err := r.ct.Retry(ctx, item.ID); err != nil {
			if !errors.Is(err, service.ErrRetryExhausted) && !errors.Is(err, service.ErrInvalidTransition) {
				slog.Info(err.Error())
			}
			continue
		}

		delay := service.BackoffDelay(item.RetryCount, r.cfg.BackoffBase)
		if item.InCarousel() {
			err = queue.EnqueueCarousel(r.client, queue.PublishCarouselPayload{GroupID: item.CarouselGroupID}, delay)
		} else {
			err = queue.EnqueueItem(r.client, queue.PublishItemPayload{ItemID: item.ID}, delay)
		}
		if err != nil {
			slog.Info(err.Error())
		}
	}
}

// retryWorthwhile filters failures where another attempt cannot succeed:
// content rejections are permanent, and token failures repeat until the
// account's token has actually been refreshed since the failure.
func retryWorthwhile(ctx context.Context, ar repository.AccountRepository, cache map[string]*models.Account, item *models.ContentItem) bool {
	switch item.ErrorCode {
	case string(instagram.KindContent):
		return false
	case string(instagram.KindToken):
		account, ok := cache[item.AccountID]
		if !ok {
			var err error
			account, err = ar.GetByID(ctx, item.AccountID)
			if err != nil {
				slog.Info(err.Error())
				return false
			}
			cache[item.AccountID] = account
		}
		return account != nil && account.LastTokenRefresh.After(item.UpdatedAt)
	}
	return true
}
