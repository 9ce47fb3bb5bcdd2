package transfer

// PublishRequest is one line of the socket protocol: a publish job submitted
// by an external process. image_urls with two or more entries selects
// carousel publishing, otherwise image_url selects a single-image post.
type PublishRequest struct {
	RequestID string   `json:"request_id"`
	AccountID string   `json:"account_id"`
	UserToken string   `json:"user_token"`
	PageID    string   `json:"page_id"`
	Caption   string   `json:"caption"`
	ImageURL  string   `json:"image_url,omitempty"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

func (r *PublishRequest) IsCarousel() bool {
	return len(r.ImageURLs) >= 2
}

// PublishResponse is one line of the socket protocol in the other direction.
// Every accepted request produces at least two: an ack frame and a final
// frame carrying the outcome.
type PublishResponse struct {
	RequestID string        `json:"request_id"`
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Data      *ResponseData `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type ResponseData struct {
	PostID  string `json:"post_id"`
	PostURL string `json:"post_url"`
	MediaID string `json:"media_id"`
}

// RenderRequest/RenderResponse is the contract with the external renderer
// service that turns a forum post plus template into an image and caption.
type RenderRequest struct {
	ContentRef  string `json:"content_ref"`
	TemplateRef string `json:"template_ref"`
}

type RenderResponse struct {
	ImageURL string `json:"image_url"`
	Caption  string `json:"caption"`
}
