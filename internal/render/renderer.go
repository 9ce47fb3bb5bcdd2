// Package render calls the rendering sidecar that turns forum content
// into publishable images.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/forumgram/publisher/internal/transfer"
)

type Renderer interface {
	Render(ctx context.Context, contentRef, templateRef string) (*transfer.RenderResponse, error)
}

type httpRenderer struct {
	baseURL string
	http    *http.Client
}

func NewHTTPRenderer(baseURL string) Renderer {
	return &httpRenderer{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *httpRenderer) Render(ctx context.Context, contentRef, templateRef string) (*transfer.RenderResponse, error) {
	payload, err := json.Marshal(transfer.RenderRequest{
		ContentRef:  contentRef,
		TemplateRef: templateRef,
	})
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewBuffer(payload))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("renderer returned %d: %s", resp.StatusCode, string(body))
	}

	var rendered transfer.RenderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rendered); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if rendered.ImageURL == "" {
		return nil, fmt.Errorf("renderer returned empty image url")
	}
	return &rendered, nil
}
