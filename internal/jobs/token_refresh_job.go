package job

import (
	"context"

	"github.com/forumgram/publisher/internal/service"
)

type TokenRefreshJob struct {
	tk service.TokenService
}

func NewtokenRefreshJob(tk service.TokenService) *TokenRefreshJob {
	return &TokenRefreshJob{
		tk: tk,
	}
}

// RefreshTokens refreshes every account whose token expires within the
// refresh window. Per-account failures are logged inside the sweep.
func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()
	c.tk.RefreshExpiringTokens(ctx)
}
