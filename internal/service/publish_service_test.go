package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/forumgram/publisher/configs"
	"github.com/forumgram/publisher/internal/instagram"
	"github.com/forumgram/publisher/internal/locks"
	"github.com/forumgram/publisher/internal/models"
	"github.com/forumgram/publisher/internal/repository"
	"github.com/forumgram/publisher/internal/transfer"
	"github.com/forumgram/publisher/pkg/utils"
)

const testSecretKey = "0123456789abcdef0123456789abcdef"

// fakeGraph satisfies GraphClient. Unset hooks answer with canned success.
type fakeGraph struct {
	createCalls  int32
	publishCalls int32

	createFn    func(imageURL, caption string, carouselItem bool) (string, error)
	carouselFn  func(caption string, children []string) (string, error)
	waitFn      func(containerID string) error
	publishFn   func(creationID string) (string, error)
	permalinkFn func(mediaID string) (string, error)
	refreshFn   func(accessToken string) (*transfer.InstagramToken, error)
}

func (f *fakeGraph) CreateContainer(ctx context.Context, userID, accessToken, imageURL, caption string, carouselItem bool) (string, error) {
	n := atomic.AddInt32(&f.createCalls, 1)
	if f.createFn != nil {
		return f.createFn(imageURL, caption, carouselItem)
	}
	return "container-" + string(rune('0'+n)), nil
}

func (f *fakeGraph) CreateCarouselContainer(ctx context.Context, userID, accessToken, caption string, children []string) (string, error) {
	if f.carouselFn != nil {
		return f.carouselFn(caption, children)
	}
	return "parent-container", nil
}

func (f *fakeGraph) WaitForContainer(ctx context.Context, containerID, accessToken string) error {
	if f.waitFn != nil {
		return f.waitFn(containerID)
	}
	return nil
}

func (f *fakeGraph) PublishContainer(ctx context.Context, userID, accessToken, creationID string) (string, error) {
	atomic.AddInt32(&f.publishCalls, 1)
	if f.publishFn != nil {
		return f.publishFn(creationID)
	}
	return "media-1", nil
}

func (f *fakeGraph) GetPermalink(ctx context.Context, mediaID, accessToken string) (string, error) {
	if f.permalinkFn != nil {
		return f.permalinkFn(mediaID)
	}
	return "https://platform.example/p/" + mediaID, nil
}

func (f *fakeGraph) RefreshAccessToken(ctx context.Context, accessToken string) (*transfer.InstagramToken, error) {
	if f.refreshFn != nil {
		return f.refreshFn(accessToken)
	}
	return &transfer.InstagramToken{AccessToken: "refreshed-" + accessToken, ExpiresAt: time.Now().Add(60 * 24 * time.Hour)}, nil
}

// passMedia accepts every image so publish tests stay off the network.
type passMedia struct{}

func (passMedia) ValidateImageURL(ctx context.Context, imageURL string) error { return nil }
func (passMedia) MirrorImage(ctx context.Context, imageURL string) (string, error) {
	return imageURL, nil
}

type publishFixture struct {
	ci    repository.ContentItemRepository
	ar    repository.AccountRepository
	ph    repository.PublishHistoryRepository
	graph *fakeGraph
	locks *locks.Registry
	svc   PublishService
}

func newPublishFixture(t *testing.T) *publishFixture {
	t.Helper()
	cfg := config.Config{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		SecretKey:   testSecretKey,
	}
	f := &publishFixture{
		ci:    repository.NewMemoryContentItemRepository(),
		ar:    repository.NewMemoryAccountRepository(),
		ph:    repository.NewMemoryPublishHistoryRepository(),
		graph: &fakeGraph{},
		locks: locks.NewRegistry(),
	}
	tk := NewTokenService(cfg, f.ar, f.graph)
	f.svc = NewPublishService(cfg, f.ci, f.ar, f.ph, f.graph, passMedia{}, tk, f.locks)
	return f
}

func (f *publishFixture) seedAccount(t *testing.T, id string) {
	t.Helper()
	encrypted, err := utils.Encrypt([]byte("token-"+id), []byte(testSecretKey))
	if err != nil {
		t.Fatalf("encrypt token: %v", err)
	}
	_, err = f.ar.Create(context.Background(), &models.Account{
		ID:             id,
		ExternalUserID: "17841" + id,
		AccessToken:    encrypted,
		TokenExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		PublishPolicy:  models.PolicyInstant,
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}

func (f *publishFixture) seedItem(t *testing.T, id, accountID, status string) {
	t.Helper()
	_, err := f.ci.Create(context.Background(), nil, &models.ContentItem{
		ID:         id,
		SourceRef:  "post/" + id,
		AccountID:  accountID,
		Status:     status,
		ImageURL:   "https://cdn.example/" + id + ".jpg",
		Caption:    "caption " + id,
		MaxRetries: models.DefaultMaxRetries,
	})
	if err != nil {
		t.Fatalf("seed item %s: %v", id, err)
	}
}

func (f *publishFixture) seedGroup(t *testing.T, accountID, groupID string, ids ...string) {
	t.Helper()
	for i, id := range ids {
		_, err := f.ci.Create(context.Background(), nil, &models.ContentItem{
			ID:               id,
			SourceRef:        "post/" + id,
			AccountID:        accountID,
			Status:           models.ItemStatusReady,
			ImageURL:         "https://cdn.example/" + id + ".jpg",
			Caption:          "caption " + id,
			CarouselGroupID:  groupID,
			CarouselPosition: i + 1,
			CarouselTotal:    len(ids),
			MaxRetries:       models.DefaultMaxRetries,
		})
		if err != nil {
			t.Fatalf("seed group item %s: %v", id, err)
		}
	}
}

func (f *publishFixture) item(t *testing.T, id string) *models.ContentItem {
	t.Helper()
	item, err := f.ci.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID %s: %v", id, err)
	}
	if item == nil {
		t.Fatalf("item %s not found", id)
	}
	return item
}

func TestPublishSingleSuccess(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedItem(t, "i1", "acc", models.ItemStatusReady)
	f.graph.publishFn = func(creationID string) (string, error) { return "media-42", nil }

	result, err := f.svc.PublishSingle(context.Background(), "i1")
	if err != nil {
		t.Fatalf("PublishSingle: %v", err)
	}
	if !result.Success || result.MediaID != "media-42" {
		t.Fatalf("result = %+v, want success with media-42", result)
	}
	if result.Permalink != "https://platform.example/p/media-42" {
		t.Fatalf("permalink = %q", result.Permalink)
	}

	item := f.item(t, "i1")
	if item.Status != models.ItemStatusPublished || item.MediaID != "media-42" {
		t.Fatalf("item after publish = %s/%s", item.Status, item.MediaID)
	}
	if item.PublishedAt.IsZero() {
		t.Fatal("published_at not set")
	}

	rows, err := f.ph.ListByAccountID(context.Background(), "acc", 10)
	if err != nil {
		t.Fatalf("ListByAccountID: %v", err)
	}
	if len(rows) != 1 || !rows[0].Success || rows[0].MediaID != "media-42" || rows[0].ItemID != "i1" {
		t.Fatalf("history rows = %+v", rows)
	}

	account, _ := f.ar.GetByID(context.Background(), "acc")
	if account.LastPublishAt.IsZero() {
		t.Fatal("account last_publish_at not updated")
	}
	if !f.locks.TryAcquire("acc") {
		t.Fatal("account lock not released after publish")
	}
}

func TestPublishSingleAccountBusy(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedItem(t, "i1", "acc", models.ItemStatusReady)

	if !f.locks.TryAcquire("acc") {
		t.Fatal("setup: could not take account lock")
	}
	defer f.locks.Release("acc")

	_, err := f.svc.PublishSingle(context.Background(), "i1")
	if !errors.Is(err, ErrAccountBusy) {
		t.Fatalf("err = %v, want ErrAccountBusy", err)
	}
	if got := f.item(t, "i1").Status; got != models.ItemStatusReady {
		t.Fatalf("busy rejection must not touch the item, status = %s", got)
	}
	if f.graph.createCalls != 0 {
		t.Fatalf("platform called %d times while busy", f.graph.createCalls)
	}
}

func TestPublishSingleExpiredToken(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	encrypted, _ := utils.Encrypt([]byte("stale"), []byte(testSecretKey))
	f.ar.Create(context.Background(), &models.Account{
		ID:             "acc",
		ExternalUserID: "17841acc",
		AccessToken:    encrypted,
		TokenExpiresAt: time.Now().Add(-time.Hour),
		PublishPolicy:  models.PolicyInstant,
		IsActive:       true,
	})
	f.seedItem(t, "i1", "acc", models.ItemStatusReady)

	_, err := f.svc.PublishSingle(context.Background(), "i1")
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
	if got := f.item(t, "i1").Status; got != models.ItemStatusReady {
		t.Fatalf("item moved to %s, expired token must leave it ready for the refresh job", got)
	}
	if !f.locks.TryAcquire("acc") {
		t.Fatal("account lock not released")
	}
}

func TestPublishSingleRejectsNonReadyItem(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedItem(t, "i1", "acc", models.ItemStatusPending)

	_, err := f.svc.PublishSingle(context.Background(), "i1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestPublishSingleContentErrorIsPermanent(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedItem(t, "i1", "acc", models.ItemStatusReady)
	f.graph.createFn = func(imageURL, caption string, carouselItem bool) (string, error) {
		return "", &instagram.PlatformError{Kind: instagram.KindContent, Code: 24, Message: "image too large"}
	}

	result, err := f.svc.PublishSingle(context.Background(), "i1")
	if err != nil {
		t.Fatalf("classified failures report through the result, got err %v", err)
	}
	if result.Success || result.ErrorKind != instagram.KindContent {
		t.Fatalf("result = %+v, want content failure", result)
	}
	if f.graph.createCalls != 1 {
		t.Fatalf("content errors must not retry in place, got %d attempts", f.graph.createCalls)
	}

	item := f.item(t, "i1")
	if item.Status != models.ItemStatusFailed || item.ErrorCode != string(instagram.KindContent) {
		t.Fatalf("item = %s/%s, want failed/content", item.Status, item.ErrorCode)
	}
	if item.RetryCount != 0 {
		t.Fatalf("retry count = %d, failing must not consume attempts", item.RetryCount)
	}

	rows, _ := f.ph.ListByAccountID(context.Background(), "acc", 10)
	if len(rows) != 1 || rows[0].Success || rows[0].ErrorKind != string(instagram.KindContent) {
		t.Fatalf("history rows = %+v", rows)
	}
	if !f.locks.TryAcquire("acc") {
		t.Fatal("account lock not released after failure")
	}
}

func TestPublishSingleRateLimitBacksOff(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedItem(t, "i1", "acc", models.ItemStatusReady)
	f.graph.createFn = func(imageURL, caption string, carouselItem bool) (string, error) {
		if atomic.LoadInt32(&f.graph.createCalls) < 3 {
			return "", &instagram.PlatformError{Kind: instagram.KindRateLimit, Code: 4, Message: "too many calls"}
		}
		return "container-ok", nil
	}

	result, err := f.svc.PublishSingle(context.Background(), "i1")
	if err != nil {
		t.Fatalf("PublishSingle: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if f.graph.createCalls != 3 {
		t.Fatalf("create attempts = %d, want 3 (two rate limited, one success)", f.graph.createCalls)
	}
}

func TestPublishSingleMediaNotReadyRetriesPublish(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedItem(t, "i1", "acc", models.ItemStatusReady)
	f.graph.publishFn = func(creationID string) (string, error) {
		if atomic.LoadInt32(&f.graph.publishCalls) == 1 {
			return "", &instagram.PlatformError{Kind: instagram.KindMediaNotReady, Code: 9007, Subcode: 2207027, Message: "media not ready"}
		}
		return "media-late", nil
	}

	result, err := f.svc.PublishSingle(context.Background(), "i1")
	if err != nil {
		t.Fatalf("PublishSingle: %v", err)
	}
	if !result.Success || result.MediaID != "media-late" {
		t.Fatalf("result = %+v", result)
	}
	if f.graph.publishCalls != 2 {
		t.Fatalf("publish attempts = %d, want 2", f.graph.publishCalls)
	}
}

func TestPublishSingleNetworkErrorFailsWithoutInPlaceRetry(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedItem(t, "i1", "acc", models.ItemStatusReady)
	f.graph.createFn = func(imageURL, caption string, carouselItem bool) (string, error) {
		return "", &instagram.PlatformError{Kind: instagram.KindNetwork, Message: "connection reset"}
	}

	result, err := f.svc.PublishSingle(context.Background(), "i1")
	if err != nil {
		t.Fatalf("PublishSingle: %v", err)
	}
	if result.Success || result.ErrorKind != instagram.KindNetwork {
		t.Fatalf("result = %+v", result)
	}
	if f.graph.createCalls != 1 {
		t.Fatalf("network errors retry at the item level, not in place; got %d attempts", f.graph.createCalls)
	}

	item := f.item(t, "i1")
	if item.Status != models.ItemStatusFailed || item.RetriesExhausted() {
		t.Fatalf("item = %s with retry %d/%d, want failed and retryable", item.Status, item.RetryCount, item.MaxRetries)
	}
}

func TestPublishSinglePollErrorFailsItem(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedItem(t, "i1", "acc", models.ItemStatusReady)
	f.graph.waitFn = func(containerID string) error {
		return &instagram.PlatformError{Kind: instagram.KindContent, Message: "container processing failed"}
	}

	result, err := f.svc.PublishSingle(context.Background(), "i1")
	if err != nil {
		t.Fatalf("PublishSingle: %v", err)
	}
	if result.Success || result.ErrorKind != instagram.KindContent {
		t.Fatalf("result = %+v", result)
	}
	if f.graph.publishCalls != 0 {
		t.Fatalf("publish called %d times after failed poll, want 0", f.graph.publishCalls)
	}

	item := f.item(t, "i1")
	if item.Status != models.ItemStatusFailed {
		t.Fatalf("item status = %s, want failed", item.Status)
	}
	if item.RetryCount != 0 {
		t.Fatalf("retry count = %d, a failed attempt must not consume one", item.RetryCount)
	}
	if item.ContainerID == "" {
		t.Fatal("container id not recorded; a later retry cannot reuse it")
	}
}

func TestPublishCarouselSuccess(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedGroup(t, "acc", "grp-1", "c1", "c2", "c3")

	var carouselItems int32
	f.graph.createFn = func(imageURL, caption string, carouselItem bool) (string, error) {
		if !carouselItem {
			t.Error("carousel children must be created with the carousel item flag")
		}
		n := atomic.AddInt32(&carouselItems, 1)
		return "child-" + string(rune('0'+n)), nil
	}
	var children []string
	f.graph.carouselFn = func(caption string, kids []string) (string, error) {
		children = append([]string(nil), kids...)
		return "parent-1", nil
	}
	f.graph.publishFn = func(creationID string) (string, error) {
		if creationID != "parent-1" {
			t.Errorf("published %q, want the parent container", creationID)
		}
		return "media-carousel", nil
	}

	result, err := f.svc.PublishCarousel(context.Background(), "grp-1")
	if err != nil {
		t.Fatalf("PublishCarousel: %v", err)
	}
	if !result.Success || result.MediaID != "media-carousel" {
		t.Fatalf("result = %+v", result)
	}
	if len(children) != 3 {
		t.Fatalf("parent created with %d children, want 3", len(children))
	}

	for _, id := range []string{"c1", "c2", "c3"} {
		item := f.item(t, id)
		if item.Status != models.ItemStatusPublished || item.MediaID != "media-carousel" {
			t.Fatalf("%s = %s/%s, want published with the shared media id", id, item.Status, item.MediaID)
		}
	}

	rows, _ := f.ph.ListByAccountID(context.Background(), "acc", 10)
	if len(rows) != 1 || rows[0].CarouselGroupID != "grp-1" || rows[0].ItemCount != 3 {
		t.Fatalf("history rows = %+v", rows)
	}
}

func TestPublishCarouselAllOrNothing(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedGroup(t, "acc", "grp-1", "c1", "c2", "c3")
	if err := f.ci.UpdateStatus(context.Background(), models.ItemStatusCancelled, "c2"); err != nil {
		t.Fatalf("cancel member: %v", err)
	}

	_, err := f.svc.PublishCarousel(context.Background(), "grp-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if f.graph.createCalls != 0 {
		t.Fatal("platform must not be called when the group cannot transition")
	}
	for _, id := range []string{"c1", "c3"} {
		if got := f.item(t, id).Status; got != models.ItemStatusReady {
			t.Fatalf("%s status = %s, partial transition leaked", id, got)
		}
	}
}

func TestPublishCarouselChildFailureFailsGroup(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedGroup(t, "acc", "grp-1", "c1", "c2")
	f.graph.createFn = func(imageURL, caption string, carouselItem bool) (string, error) {
		if atomic.LoadInt32(&f.graph.createCalls) == 2 {
			return "", &instagram.PlatformError{Kind: instagram.KindContent, Code: 36003, Message: "aspect ratio"}
		}
		return "child-1", nil
	}

	result, err := f.svc.PublishCarousel(context.Background(), "grp-1")
	if err != nil {
		t.Fatalf("PublishCarousel: %v", err)
	}
	if result.Success || result.ErrorKind != instagram.KindContent {
		t.Fatalf("result = %+v", result)
	}
	for _, id := range []string{"c1", "c2"} {
		item := f.item(t, id)
		if item.Status != models.ItemStatusFailed || item.ErrorCode != string(instagram.KindContent) {
			t.Fatalf("%s = %s/%s, the whole group fails together", id, item.Status, item.ErrorCode)
		}
	}
}

func TestPublishCarouselCombinesMemberCaptions(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")
	f.seedGroup(t, "acc", "grp-1", "c1", "c2")

	var got string
	f.graph.carouselFn = func(caption string, kids []string) (string, error) {
		got = caption
		return "parent-1", nil
	}

	if _, err := f.svc.PublishCarousel(context.Background(), "grp-1"); err != nil {
		t.Fatalf("PublishCarousel: %v", err)
	}
	want := "caption c1\n\ncaption c2"
	if got != want {
		t.Fatalf("parent caption = %q, want %q", got, want)
	}
}

func TestPublishDirectSingle(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)

	result, err := f.svc.PublishDirect(context.Background(), &transfer.PublishRequest{
		RequestID: "req-1",
		AccountID: "socket-acc",
		UserToken: "raw-token",
		PageID:    "178419999",
		Caption:   "from the socket",
		ImageURL:  "https://cdn.example/direct.jpg",
	})
	if err != nil {
		t.Fatalf("PublishDirect: %v", err)
	}
	if !result.Success || result.MediaID == "" {
		t.Fatalf("result = %+v", result)
	}

	// The job is materialized so clients can reconcile through item queries.
	items, err := f.ci.ListByAccountAndStatus(context.Background(), "socket-acc", models.ItemStatusPublished, 10)
	if err != nil {
		t.Fatalf("ListByAccountAndStatus: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("materialized items = %d, want 1", len(items))
	}
	if items[0].MediaID != result.MediaID || items[0].Caption != "from the socket" {
		t.Fatalf("materialized item = %+v", items[0])
	}
}

func TestPublishDirectCarousel(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)

	result, err := f.svc.PublishDirect(context.Background(), &transfer.PublishRequest{
		RequestID: "req-2",
		AccountID: "socket-acc",
		UserToken: "raw-token",
		PageID:    "178419999",
		Caption:   "gallery",
		ImageURLs: []string{
			"https://cdn.example/1.jpg",
			"https://cdn.example/2.jpg",
			"https://cdn.example/3.jpg",
		},
	})
	if err != nil {
		t.Fatalf("PublishDirect: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	items, err := f.ci.ListByAccountAndStatus(context.Background(), "socket-acc", models.ItemStatusPublished, 10)
	if err != nil {
		t.Fatalf("ListByAccountAndStatus: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("materialized items = %d, want 3", len(items))
	}
	positions := make(map[int]bool)
	for _, item := range items {
		if item.CarouselGroupID == "" || item.CarouselTotal != 3 {
			t.Fatalf("item %s missing group fields: %+v", item.ID, item)
		}
		if item.CarouselGroupID != items[0].CarouselGroupID {
			t.Fatal("members split across groups")
		}
		positions[item.CarouselPosition] = true
	}
	for p := 1; p <= 3; p++ {
		if !positions[p] {
			t.Fatalf("position %d missing", p)
		}
	}
}

func TestPublishDirectRejectsOversizedCarousel(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)

	urls := make([]string, models.MaxCarouselSize+1)
	for i := range urls {
		urls[i] = "https://cdn.example/x.jpg"
	}
	_, err := f.svc.PublishDirect(context.Background(), &transfer.PublishRequest{
		AccountID: "socket-acc",
		UserToken: "raw-token",
		PageID:    "178419999",
		ImageURLs: urls,
	})
	if !errors.Is(err, ErrCarouselSize) {
		t.Fatalf("err = %v, want ErrCarouselSize", err)
	}
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind    instagram.ErrorKind
		attempt int
		want    bool
	}{
		{instagram.KindRateLimit, 0, true},
		{instagram.KindRateLimit, 2, true},
		{instagram.KindRateLimit, 3, false},
		{instagram.KindMediaNotReady, 1, true},
		{instagram.KindMediaNotReady, 3, false},
		{instagram.KindToken, 0, false},
		{instagram.KindContent, 0, false},
		{instagram.KindNetwork, 0, false},
		{instagram.KindTimeout, 0, false},
		{instagram.KindUnknown, 0, false},
	}
	for _, tt := range tests {
		if got := shouldRetry(tt.kind, tt.attempt, 3); got != tt.want {
			t.Errorf("shouldRetry(%s, %d, 3) = %v, want %v", tt.kind, tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	base := 2 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffDelay(tt.attempt, base); got != tt.want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCombineCaptions(t *testing.T) {
	t.Parallel()
	items := []*models.ContentItem{
		{Caption: "first"},
		{Caption: ""},
		{Caption: "first"},
		{Caption: "second"},
	}
	if got := combineCaptions(items); got != "first\n\nsecond" {
		t.Fatalf("combineCaptions = %q", got)
	}
}

func TestPublishSingleConcurrentSameAccount(t *testing.T) {
	t.Parallel()
	f := newPublishFixture(t)
	f.seedAccount(t, "acc")

	const n = 8
	for i := 0; i < n; i++ {
		f.seedItem(t, fmt.Sprintf("i%d", i), "acc", models.ItemStatusReady)
	}

	// Hold each winner on the platform long enough for the losers to hit the
	// account lock, and record how many publishes ever overlapped.
	var inFlight, maxInFlight int32
	f.graph.waitFn = func(containerID string) error {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	var wg sync.WaitGroup
	var published, busy int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(itemID string) {
			defer wg.Done()
			result, err := f.svc.PublishSingle(context.Background(), itemID)
			switch {
			case errors.Is(err, ErrAccountBusy):
				atomic.AddInt32(&busy, 1)
			case err == nil && result.Success:
				atomic.AddInt32(&published, 1)
			default:
				t.Errorf("publish %s: result=%+v err=%v", itemID, result, err)
			}
		}(fmt.Sprintf("i%d", i))
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("%d publishes ran at once for one account", got)
	}
	if published < 1 || published+busy != n {
		t.Fatalf("published=%d busy=%d, want every call to publish or report busy", published, busy)
	}
	if f.locks.Held("acc") {
		t.Fatal("account lock still held after all publishes returned")
	}
}
