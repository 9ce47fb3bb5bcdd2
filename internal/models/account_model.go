package models

import (
	"fmt"
	"time"
)

type Account struct {
	ID               string    `db:"id" json:"id"`
	ExternalUserID   string    `db:"external_user_id" json:"external_user_id"`
	AccessToken      string    `db:"access_token" json:"-"`
	TokenExpiresAt   time.Time `db:"token_expires_at" json:"token_expires_at"`
	LastTokenRefresh time.Time `db:"last_token_refresh" json:"last_token_refresh"`
	PublishPolicy    string    `db:"publish_policy" json:"publish_policy"`
	BatchSize        int       `db:"batch_size" json:"batch_size"`
	ScheduledTimes   []string  `db:"scheduled_times" json:"scheduled_times"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	LastPublishAt    time.Time `db:"last_publish_at" json:"last_publish_at"`
	LastError        string    `db:"last_error" json:"last_error"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

const (
	PolicyInstant   = "instant"
	PolicyBatch     = "batch"
	PolicyScheduled = "scheduled"
)

// Validate checks the policy-dependent field invariants: batch accounts need
// a batch size in [1,10], scheduled accounts need at least one HH:MM slot.
func (a *Account) Validate() error {
	switch a.PublishPolicy {
	case PolicyInstant:
		// no extra fields
	case PolicyBatch:
		if a.BatchSize < 1 || a.BatchSize > MaxCarouselSize {
			return fmt.Errorf("batch_size must be between 1 and %d, got %d", MaxCarouselSize, a.BatchSize)
		}
	case PolicyScheduled:
		if len(a.ScheduledTimes) == 0 {
			return fmt.Errorf("scheduled policy requires at least one scheduled time")
		}
		for _, t := range a.ScheduledTimes {
			if _, err := time.Parse("15:04", t); err != nil {
				return fmt.Errorf("invalid scheduled time %q: %w", t, err)
			}
		}
	default:
		return fmt.Errorf("unknown publish policy %q", a.PublishPolicy)
	}
	return nil
}

// TokenExpired reports whether the stored token is unusable at the given time.
func (a *Account) TokenExpired(now time.Time) bool {
	return !now.Before(a.TokenExpiresAt)
}
