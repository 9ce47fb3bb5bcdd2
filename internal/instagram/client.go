package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	config "github.com/forumgram/publisher/configs"
	"github.com/forumgram/publisher/internal/transfer"
)

// Client wraps the Graph API content publishing protocol: create a media
// container, wait for it to become FINISHED, publish it. All outbound calls
// share one rate limiter so the app-level quota holds regardless of how many
// workers are publishing.
type Client struct {
	baseURL      string
	http         *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewClient(cfg config.Config) *Client {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		baseURL:      cfg.GraphBaseURL,
		http:         &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(rps), rps),
		pollInterval: cfg.RetryInterval,
		maxWait:      cfg.MaxWait,
	}
}

// CreateContainer creates a single-image media container. When carouselItem
// is set the container is flagged as a carousel child and carries no caption.
func (c *Client) CreateContainer(ctx context.Context, userID, accessToken, imageURL, caption string, carouselItem bool) (string, error) {
	payload := map[string]interface{}{
		"image_url":    imageURL,
		"access_token": accessToken,
	}
	if carouselItem {
		payload["is_carousel_item"] = true
	} else {
		payload["caption"] = caption
	}

	var result transfer.ContainerResponse
	if err := c.post(ctx, fmt.Sprintf("%s/%s/media", c.baseURL, userID), payload, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &PlatformError{Kind: KindUnknown, Message: "no container ID returned"}
	}
	return result.ID, nil
}

// CreateCarouselContainer creates the parent container referencing the
// already-created children, in order.
func (c *Client) CreateCarouselContainer(ctx context.Context, userID, accessToken, caption string, children []string) (string, error) {
	payload := map[string]interface{}{
		"media_type":   "CAROUSEL",
		"caption":      caption,
		"children":     children,
		"access_token": accessToken,
	}

	var result transfer.ContainerResponse
	if err := c.post(ctx, fmt.Sprintf("%s/%s/media", c.baseURL, userID), payload, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &PlatformError{Kind: KindUnknown, Message: "no container ID returned"}
	}
	return result.ID, nil
}

func (c *Client) GetContainerStatus(ctx context.Context, containerID, accessToken string) (string, error) {
	reqURL := fmt.Sprintf("%s/%s?fields=status_code,status&access_token=%s",
		c.baseURL, containerID, url.QueryEscape(accessToken))

	var result transfer.ContainerStatusResponse
	if err := c.get(ctx, reqURL, &result); err != nil {
		return "", err
	}
	return result.StatusCode, nil
}

// WaitForContainer polls the container status every pollInterval until it is
// FINISHED, fails (ERROR/EXPIRED), or maxWait elapses. The wait is a sleep
// between checks, not a busy spin, and honors context cancellation.
func (c *Client) WaitForContainer(ctx context.Context, containerID, accessToken string) error {
	deadline := time.Now().Add(c.maxWait)

	for {
		status, err := c.GetContainerStatus(ctx, containerID, accessToken)
		if err != nil {
			return err
		}

		switch status {
		case transfer.ContainerStatusFinished, transfer.ContainerStatusPublished:
			return nil
		case transfer.ContainerStatusError:
			return &PlatformError{Kind: KindContent, Message: "container processing failed"}
		case transfer.ContainerStatusExpired:
			return &PlatformError{Kind: KindContent, Message: "container expired before publish"}
		}

		if time.Now().After(deadline) {
			return timeoutError(fmt.Sprintf("container %s not ready after %s", containerID, c.maxWait))
		}

		select {
		case <-ctx.Done():
			return networkError(ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

// PublishContainer publishes a finished container and returns the media ID.
func (c *Client) PublishContainer(ctx context.Context, userID, accessToken, creationID string) (string, error) {
	payload := map[string]interface{}{
		"creation_id":  creationID,
		"access_token": accessToken,
	}

	var result transfer.PublishResponseBody
	if err := c.post(ctx, fmt.Sprintf("%s/%s/media_publish", c.baseURL, userID), payload, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &PlatformError{Kind: KindUnknown, Message: "no media ID returned"}
	}
	return result.ID, nil
}

// GetPermalink fetches the published post's URL. Callers treat failures as
// non-fatal: a publish without a permalink is still a publish.
func (c *Client) GetPermalink(ctx context.Context, mediaID, accessToken string) (string, error) {
	reqURL := fmt.Sprintf("%s/%s?fields=permalink&access_token=%s",
		c.baseURL, mediaID, url.QueryEscape(accessToken))

	var result transfer.PermalinkResponse
	if err := c.get(ctx, reqURL, &result); err != nil {
		return "", err
	}
	return result.Permalink, nil
}

// RefreshAccessToken exchanges a valid long-lived token for a fresh one.
func (c *Client) RefreshAccessToken(ctx context.Context, accessToken string) (*transfer.InstagramToken, error) {
	reqURL := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		c.baseURL, url.QueryEscape(accessToken))

	var result transfer.RefreshTokenResponse
	if err := c.get(ctx, reqURL, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, &PlatformError{Kind: KindUnknown, Message: "no access token returned"}
	}
	return &transfer.InstagramToken{
		AccessToken: result.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}, nil
}

func (c *Client) post(ctx context.Context, reqURL string, payload map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return networkError(err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, reqURL string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return networkError(err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return networkError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp transfer.InstagramErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return Classify(&errResp)
		}
		return &PlatformError{
			Kind:    KindUnknown,
			Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}
