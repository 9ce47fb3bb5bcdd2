package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/forumgram/publisher/internal/models"
	"github.com/forumgram/publisher/internal/service"
	"github.com/hibiken/asynq"
)

func (q *Queue) HandleRenderItemTask(ctx context.Context, task *asynq.Task) error {
	var payload RenderItemPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	err := q.ct.Render(ctx, payload.ItemID)
	if err == nil {
		return nil
	}
	if errors.Is(err, service.ErrItemNotFound) || errors.Is(err, service.ErrInvalidTransition) {
		// The item moved on since the task was queued; nothing to do.
		return nil
	}

	// A render failure is recorded on the item itself. Only infrastructure
	// errors go back to the queue for redelivery.
	item, infoErr := q.ct.Info(ctx, payload.ItemID)
	if infoErr == nil && item.Status == models.ItemStatusFailed {
		log.Printf("render failed: item %s: %v", payload.ItemID, err)
		return nil
	}
	return err
}

func (q *Queue) HandlePublishItemTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishItemPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	result, err := q.pb.PublishSingle(ctx, payload.ItemID)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrAccountBusy):
		// Another publish holds the account; let the queue redeliver.
		return err
	case errors.Is(err, service.ErrItemNotFound), errors.Is(err, service.ErrInvalidTransition):
		return nil
	case errors.Is(err, service.ErrTokenExpired):
		// The item stays ready; the refresh sweep unblocks it.
		log.Printf("publish blocked by expired token: item %s", payload.ItemID)
		return nil
	default:
		return err
	}

	if !result.Success {
		log.Printf("publish failed: item %s kind %s: %s", payload.ItemID, result.ErrorKind, result.Message)
	}
	return nil
}

func (q *Queue) HandlePublishCarouselTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishCarouselPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	result, err := q.pb.PublishCarousel(ctx, payload.GroupID)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrAccountBusy):
		return err
	case errors.Is(err, service.ErrGroupNotFound), errors.Is(err, service.ErrInvalidTransition):
		return nil
	case errors.Is(err, service.ErrTokenExpired):
		log.Printf("publish blocked by expired token: group %s", payload.GroupID)
		return nil
	default:
		return err
	}

	if !result.Success {
		log.Printf("carousel publish failed: group %s kind %s: %s", payload.GroupID, result.ErrorKind, result.Message)
	}
	return nil
}
