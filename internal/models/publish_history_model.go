package models

import "time"

// PublishHistory is the audit row recorded for every publish attempt,
// successful or not. One row covers a whole carousel.
type PublishHistory struct {
	ID              int64     `db:"id" json:"id"`
	AccountID       string    `db:"account_id" json:"account_id"`
	ItemID          string    `db:"item_id" json:"item_id"`
	CarouselGroupID string    `db:"carousel_group_id" json:"carousel_group_id,omitempty"`
	ItemCount       int       `db:"item_count" json:"item_count"`
	Success         bool      `db:"success" json:"success"`
	MediaID         string    `db:"media_id" json:"media_id,omitempty"`
	ErrorKind       string    `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage    string    `db:"error_message" json:"error_message,omitempty"`
	DurationMS      int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
