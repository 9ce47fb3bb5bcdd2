package transfer

import "time"

// Container status codes returned by the Graph API status endpoint.
const (
	ContainerStatusFinished   = "FINISHED"
	ContainerStatusInProgress = "IN_PROGRESS"
	ContainerStatusError      = "ERROR"
	ContainerStatusExpired    = "EXPIRED"
	ContainerStatusPublished  = "PUBLISHED"
)

type ContainerResponse struct {
	ID string `json:"id"`
}

type ContainerStatusResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	StatusCode string `json:"status_code"`
}

type PublishResponseBody struct {
	ID string `json:"id"`
}

type PermalinkResponse struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
}

type RefreshTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type InstagramToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type InstagramErrorResponse struct {
	Error struct {
		Message        string `json:"message"`
		Type           string `json:"type"`
		Code           int    `json:"code"`
		ErrorSubcode   int    `json:"error_subcode"`
		IsTransient    bool   `json:"is_transient"`
		ErrorUserTitle string `json:"error_user_title"`
		ErrorUserMsg   string `json:"error_user_msg"`
		FbtraceID      string `json:"fbtrace_id"`
	} `json:"error"`
}
