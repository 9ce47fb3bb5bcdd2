package service

import (
	"context"

	"github.com/forumgram/publisher/internal/transfer"
)

// GraphClient is the slice of the external platform API the pipeline consumes.
// *instagram.Client satisfies it.
type GraphClient interface {
	CreateContainer(ctx context.Context, userID, accessToken, imageURL, caption string, carouselItem bool) (string, error)
	CreateCarouselContainer(ctx context.Context, userID, accessToken, caption string, children []string) (string, error)
	WaitForContainer(ctx context.Context, containerID, accessToken string) error
	PublishContainer(ctx context.Context, userID, accessToken, creationID string) (string, error)
	GetPermalink(ctx context.Context, mediaID, accessToken string) (string, error)
	RefreshAccessToken(ctx context.Context, accessToken string) (*transfer.InstagramToken, error)
}
