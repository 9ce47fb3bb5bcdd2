package transfer

import "time"

// AccountRegistration is the request body for registering a publishing
// account. The access token arrives in plaintext and is encrypted before it
// is stored.
type AccountRegistration struct {
	ExternalUserID string    `json:"external_user_id"`
	AccessToken    string    `json:"access_token"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`
	PublishPolicy  string    `json:"publish_policy"`
	BatchSize      int       `json:"batch_size,omitempty"`
	ScheduledTimes []string  `json:"scheduled_times,omitempty"`
}
