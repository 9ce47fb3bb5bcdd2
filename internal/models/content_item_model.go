package models

import "time"

type ContentItem struct {
	ID               string    `db:"id" json:"id"`
	SourceRef        string    `db:"source_ref" json:"source_ref"`
	AccountID        string    `db:"account_id" json:"account_id"`
	Status           string    `db:"status" json:"status"`
	ImageURL         string    `db:"image_url" json:"image_url"`
	Caption          string    `db:"caption" json:"caption"`
	CarouselGroupID  string    `db:"carousel_group_id" json:"carousel_group_id,omitempty"`
	CarouselPosition int       `db:"carousel_position" json:"carousel_position,omitempty"`
	CarouselTotal    int       `db:"carousel_total" json:"carousel_total,omitempty"`
	MediaID          string    `db:"media_id" json:"media_id,omitempty"`
	ContainerID      string    `db:"container_id" json:"container_id,omitempty"`
	Permalink        string    `db:"permalink" json:"permalink,omitempty"`
	ErrorCode        string    `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage     string    `db:"error_message" json:"error_message,omitempty"`
	RetryCount       int       `db:"retry_count" json:"retry_count"`
	MaxRetries       int       `db:"max_retries" json:"max_retries"`
	ScheduledAt      time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	PublishedAt      time.Time `db:"published_at" json:"published_at,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

const (
	ItemStatusPending    = "pending"
	ItemStatusRendering  = "rendering"
	ItemStatusReady      = "ready"
	ItemStatusPublishing = "publishing"
	ItemStatusPublished  = "published"
	ItemStatusFailed     = "failed"
	ItemStatusCancelled  = "cancelled"
)

const (
	MinCarouselSize   = 2
	MaxCarouselSize   = 10
	DefaultMaxRetries = 3
)

// itemTransitions is the strict forward state machine plus the retry edge.
// Cancellation is handled separately: any non-terminal status may cancel.
var itemTransitions = map[string][]string{
	ItemStatusPending:    {ItemStatusRendering},
	ItemStatusRendering:  {ItemStatusReady, ItemStatusFailed},
	ItemStatusReady:      {ItemStatusPublishing},
	ItemStatusPublishing: {ItemStatusPublished, ItemStatusFailed},
	ItemStatusFailed:     {ItemStatusReady},
}

func CanTransition(from, to string) bool {
	if to == ItemStatusCancelled {
		return !IsTerminalStatus(from)
	}
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	switch status {
	case ItemStatusPublished, ItemStatusCancelled:
		return true
	case ItemStatusFailed:
		// failed is terminal unless retried, which goes through CanTransition.
		return false
	}
	return false
}

func (ci *ContentItem) InCarousel() bool {
	return ci.CarouselGroupID != ""
}

func (ci *ContentItem) RetriesExhausted() bool {
	return ci.RetryCount >= ci.MaxRetries
}
