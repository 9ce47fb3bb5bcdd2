package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cfg "github.com/forumgram/publisher/configs"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// MediaService validates rendered images before publishing and mirrors them
// into R2 so the external platform fetches from our bucket instead of the
// renderer's short-lived URLs.
type MediaService interface {
	ValidateImageURL(ctx context.Context, imageURL string) error
	MirrorImage(ctx context.Context, imageURL string) (string, error)
}

type mediaService struct {
	config cfg.Config
	http   *http.Client
}

func NewMediaService(cfg cfg.Config) MediaService {
	return &mediaService{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// ValidateImageURL checks with a HEAD request that the URL is a reachable
// http(s) resource serving an image content type.
func (s *mediaService) ValidateImageURL(ctx context.Context, imageURL string) error {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("invalid image url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("image url scheme %q is not http(s)", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("image url is not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("image url returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("image url serves %q, not an image", contentType)
	}

	return nil
}

// MirrorImage downloads the rendered image, verifies it really is an image by
// content sniffing, and uploads it to R2. Returns the public URL. With no
// bucket configured the original URL is returned unchanged.
func (s *mediaService) MirrorImage(ctx context.Context, imageURL string) (string, error) {
	if s.config.R2.BucketName == "" {
		return imageURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("error downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	fileBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("error reading image content: %w", err)
	}

	fileType, err := filetype.Match(fileBytes)
	if err != nil || fileType == types.Unknown {
		return "", errors.New("unsupported file type")
	}
	allowedTypes := map[string]struct{}{
		"jpg": {}, "jpeg": {}, "png": {},
	}
	if _, ok := allowedTypes[fileType.Extension]; !ok {
		return "", fmt.Errorf("file type %s is not allowed", fileType.Extension)
	}

	key, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	if err := s.uploadToR2(ctx, key, fileBytes, fileType.MIME.Value); err != nil {
		return "", fmt.Errorf("error uploading image: %w", err)
	}

	return fmt.Sprintf("%s/%s", strings.TrimSuffix(s.config.R2.PublicBaseURL, "/"), key), nil
}

func (s *mediaService) r2Client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.config.R2.AccessKey, s.config.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.config.R2.AccountID))
	}), nil
}

func (s *mediaService) uploadToR2(ctx context.Context, key string, file []byte, contentType string) error {
	client, err := s.r2Client(ctx)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file),
		ContentType: aws.String(contentType),
	}

	if _, err := client.PutObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}
