package queue

import (
	"github.com/forumgram/publisher/internal/service"
)

type Queue struct {
	ct service.ContentService
	pb service.PublishService
}

func NewQueue(ct service.ContentService, pb service.PublishService) *Queue {
	return &Queue{
		ct: ct,
		pb: pb,
	}
}

const (
	TaskTypeRenderItem      = "render:item"
	TaskTypePublishItem     = "publish:item"
	TaskTypePublishCarousel = "publish:carousel"
)

type RenderItemPayload struct {
	ItemID string `json:"item_id"`
}

type PublishItemPayload struct {
	ItemID string `json:"item_id"`
}

type PublishCarouselPayload struct {
	GroupID string `json:"group_id"`
}
