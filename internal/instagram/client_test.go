package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/forumgram/publisher/configs"
)

func testClient(baseURL string) *Client {
	return NewClient(config.Config{
		GraphBaseURL:  baseURL,
		RetryInterval: 5 * time.Millisecond,
		MaxWait:       200 * time.Millisecond,
		RateLimitRPS:  1000,
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestCreateContainerSingle(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/17841/media" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["image_url"] != "https://cdn.example/p.jpg" {
			t.Errorf("image_url = %v", payload["image_url"])
		}
		if payload["caption"] != "hello" {
			t.Errorf("caption = %v", payload["caption"])
		}
		if _, ok := payload["is_carousel_item"]; ok {
			t.Error("single post must not be flagged as carousel item")
		}
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "cont-1"})
	}))
	defer srv.Close()

	id, err := testClient(srv.URL).CreateContainer(context.Background(), "17841", "tok", "https://cdn.example/p.jpg", "hello", false)
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if id != "cont-1" {
		t.Fatalf("container id = %s, want cont-1", id)
	}
}

func TestCreateContainerCarouselItem(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["is_carousel_item"] != true {
			t.Errorf("expected is_carousel_item, got %v", payload)
		}
		if _, ok := payload["caption"]; ok {
			t.Error("carousel children must not carry the caption")
		}
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "child-1"})
	}))
	defer srv.Close()

	id, err := testClient(srv.URL).CreateContainer(context.Background(), "u", "tok", "https://cdn.example/1.jpg", "ignored", true)
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if id != "child-1" {
		t.Fatalf("id = %s", id)
	}
}

func TestCreateCarouselContainer(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["media_type"] != "CAROUSEL" {
			t.Errorf("media_type = %v", payload["media_type"])
		}
		children, ok := payload["children"].([]interface{})
		if !ok || len(children) != 3 {
			t.Errorf("children = %v", payload["children"])
		}
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "parent-1"})
	}))
	defer srv.Close()

	id, err := testClient(srv.URL).CreateCarouselContainer(context.Background(), "u", "tok", "cap", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("CreateCarouselContainer: %v", err)
	}
	if id != "parent-1" {
		t.Fatalf("id = %s", id)
	}
}

func TestWaitForContainerFinishes(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := "IN_PROGRESS"
		if n >= 3 {
			status = "FINISHED"
		}
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "c", "status_code": status})
	}))
	defer srv.Close()

	if err := testClient(srv.URL).WaitForContainer(context.Background(), "c", "tok"); err != nil {
		t.Fatalf("WaitForContainer: %v", err)
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestWaitForContainerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "c", "status_code": "ERROR"})
	}))
	defer srv.Close()

	err := testClient(srv.URL).WaitForContainer(context.Background(), "c", "tok")
	var pe *PlatformError
	if !errors.As(err, &pe) || pe.Kind != KindContent {
		t.Fatalf("expected content error, got %v", err)
	}
}

func TestWaitForContainerTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "c", "status_code": "IN_PROGRESS"})
	}))
	defer srv.Close()

	c := NewClient(config.Config{
		GraphBaseURL:  srv.URL,
		RetryInterval: 5 * time.Millisecond,
		MaxWait:       20 * time.Millisecond,
		RateLimitRPS:  1000,
	})
	err := c.WaitForContainer(context.Background(), "c", "tok")
	var pe *PlatformError
	if !errors.As(err, &pe) || pe.Kind != KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestPublishContainerClassifiesErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"error": map[string]interface{}{
				"message":       "Media ID is not available",
				"type":          "OAuthException",
				"code":          9007,
				"error_subcode": 2207027,
			},
		}
		writeJSON(t, w, http.StatusBadRequest, body)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).PublishContainer(context.Background(), "u", "tok", "cont")
	var pe *PlatformError
	if !errors.As(err, &pe) || pe.Kind != KindMediaNotReady {
		t.Fatalf("expected media_not_ready, got %v", err)
	}
}

func TestPublishContainerSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["creation_id"] != "cont-9" {
			t.Errorf("creation_id = %v", payload["creation_id"])
		}
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "media-9"})
	}))
	defer srv.Close()

	id, err := testClient(srv.URL).PublishContainer(context.Background(), "u", "tok", "cont-9")
	if err != nil {
		t.Fatalf("PublishContainer: %v", err)
	}
	if id != "media-9" {
		t.Fatalf("media id = %s", id)
	}
}

func TestGetPermalink(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]string{"id": "m", "permalink": "https://www.instagram.com/p/xyz/"})
	}))
	defer srv.Close()

	link, err := testClient(srv.URL).GetPermalink(context.Background(), "m", "tok")
	if err != nil {
		t.Fatalf("GetPermalink: %v", err)
	}
	if link != "https://www.instagram.com/p/xyz/" {
		t.Fatalf("permalink = %s", link)
	}
}

func TestRefreshAccessToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "ig_refresh_token" {
			t.Errorf("grant_type = %s", r.URL.Query().Get("grant_type"))
		}
		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"access_token": "fresh-token",
			"token_type":   "bearer",
			"expires_in":   5184000,
		})
	}))
	defer srv.Close()

	tok, err := testClient(srv.URL).RefreshAccessToken(context.Background(), "old-token")
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if tok.AccessToken != "fresh-token" {
		t.Fatalf("token = %s", tok.AccessToken)
	}
	if until := time.Until(tok.ExpiresAt); until < 59*24*time.Hour {
		t.Fatalf("expiry too soon: %s", until)
	}
}
