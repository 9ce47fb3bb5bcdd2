package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/forumgram/publisher/internal/models"
	"github.com/forumgram/publisher/internal/queue"
	"github.com/forumgram/publisher/internal/repository"
	"github.com/forumgram/publisher/internal/service"
	"github.com/hibiken/asynq"
)

const (
	pendingScanLimit = 100
	readyScanLimit   = 100
)

// PipelineJob is the cron tick that moves items through the pipeline: new
// items get render tasks, ready items get publish tasks per their account's
// policy. Every step is idempotent, so overlapping ticks and requeued
// duplicates collapse on the status guards.
type PipelineJob struct {
	ar     repository.AccountRepository
	ci     repository.ContentItemRepository
	ct     service.ContentService
	bt     service.BatchService
	client *asynq.Client
}

func NewPipelineJob(
	ar repository.AccountRepository,
	ci repository.ContentItemRepository,
	ct service.ContentService,
	bt service.BatchService,
	client *asynq.Client) *PipelineJob {
	return &PipelineJob{
		ar: ar,
		ci: ci,
		ct: ct,
		bt: bt,
		client: client,
	}
}

func (p *PipelineJob) Run() {
	ctx := context.Background()
	p.processPending(ctx)
	p.evaluateAccounts(ctx)
}

func (p *PipelineJob) processPending(ctx context.Context) {
	items, err := p.ci.ListByStatus(ctx, models.ItemStatusPending, pendingScanLimit)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, item := range items {
		if err := queue.EnqueueRender(p.client, queue.RenderItemPayload{ItemID: item.ID}, 0); err != nil {
			slog.Info(err.Error())
		}
	}
}

func (p *PipelineJob) evaluateAccounts(ctx context.Context) {
	accounts, err := p.ar.ListActive(ctx)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, account := range accounts {
		switch account.PublishPolicy {
		case models.PolicyInstant:
			p.queueSingles(ctx, account.ID, readyScanLimit)
		case models.PolicyBatch:
			p.queueBatch(ctx, account)
		case models.PolicyScheduled:
			if scheduleDue(account, time.Now()) {
				p.queueSingles(ctx, account.ID, 1)
			}
		}
	}
}

func (p *PipelineJob) queueSingles(ctx context.Context, accountID string, limit int) {
	items, err := p.ct.SelectEligible(ctx, accountID, limit)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, item := range items {
		if err := queue.EnqueueItem(p.client, queue.PublishItemPayload{ItemID: item.ID}, 0); err != nil {
			slog.Info(err.Error())
		}
	}
}

func (p *PipelineJob) queueBatch(ctx context.Context, account *models.Account) {
	// Claimed groups that never reached the queue are picked up again here.
	ready, err := p.ci.ListByAccountAndStatus(ctx, account.ID, models.ItemStatusReady, readyScanLimit)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	groups := make(map[string]struct{})
	for _, item := range ready {
		if item.CarouselGroupID != "" {
			groups[item.CarouselGroupID] = struct{}{}
		}
	}
	for groupID := range groups {
		if err := queue.EnqueueCarousel(p.client, queue.PublishCarouselPayload{GroupID: groupID}, 0); err != nil {
			slog.Info(err.Error())
		}
	}

	// A batch of one cannot form a carousel; those accounts publish singles.
	if account.BatchSize < models.MinCarouselSize {
		p.queueSingles(ctx, account.ID, readyScanLimit)
		return
	}

	ok, err := p.bt.CheckBatchReady(ctx, account.ID)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if !ok {
		return
	}

	groupID, err := p.bt.CreateBatch(ctx, account.ID, account.BatchSize)
	if err != nil {
		// A concurrent tick may have claimed the items first.
		if !errors.Is(err, service.ErrInsufficientItems) {
			slog.Info(err.Error())
		}
		return
	}
	if err := queue.EnqueueCarousel(p.client, queue.PublishCarouselPayload{GroupID: groupID}, 0); err != nil {
		slog.Info(err.Error())
	}
}

// scheduleDue reports whether one of the account's HH:MM publish slots has
// passed today without a publish since that slot.
func scheduleDue(account *models.Account, now time.Time) bool {
	for _, slot := range account.ScheduledTimes {
		at, err := time.Parse("15:04", slot)
		if err != nil {
			slog.Info("invalid scheduled time", "account_id", account.ID, "slot", slot)
			continue
		}
		slotTime := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
		if slotTime.After(now) {
			continue
		}
		if account.LastPublishAt.Before(slotTime) {
			return true
		}
	}
	return false
}
