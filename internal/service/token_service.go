package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	config "github.com/forumgram/publisher/configs"
	"github.com/forumgram/publisher/internal/repository"
	"github.com/forumgram/publisher/pkg/utils"
)

// Tokens are refreshed once they are within this window of expiry.
const tokenRefreshWindow = 7 * 24 * time.Hour

type TokenService interface {
	GetValidToken(ctx context.Context, accountID string) (string, error)
	Refresh(ctx context.Context, accountID string) error
	RefreshExpiringTokens(ctx context.Context) error
}

type tokenService struct {
	cfg config.Config
	ar  repository.AccountRepository
	ig  GraphClient
}

func NewTokenService(cfg config.Config, ar repository.AccountRepository, ig GraphClient) TokenService {
	return &tokenService{
		cfg: cfg,
		ar:  ar,
		ig:  ig,
	}
}

// GetValidToken returns the decrypted token for the account. An expired token
// is an error here; refreshing is the scheduler's job, never the publish
// path's.
func (s *tokenService) GetValidToken(ctx context.Context, accountID string) (string, error) {
	account, err := s.ar.GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", ErrAccountNotFound
	}

	if account.TokenExpired(time.Now()) {
		slog.Info("access token expired", "account_id", accountID)
		return "", ErrTokenExpired
	}

	decrypted, err := utils.Decrypt(account.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return "", err
	}

	return decrypted, nil
}

// Refresh exchanges the stored token for a fresh long-lived one. On any
// failure the stored token is left untouched.
func (s *tokenService) Refresh(ctx context.Context, accountID string) error {
	account, err := s.ar.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrAccountNotFound
	}

	decrypted, err := utils.Decrypt(account.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	token, err := s.ig.RefreshAccessToken(ctx, decrypted)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	encrypted, err := utils.Encrypt([]byte(token.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	if err := s.ar.SetToken(ctx, accountID, encrypted, token.ExpiresAt); err != nil {
		return err
	}

	slog.Info("access token refreshed", "account_id", accountID, "expires_at", token.ExpiresAt)
	return nil
}

// RefreshExpiringTokens refreshes every active account whose token expires
// within the refresh window. Failures are logged and skipped so one broken
// account cannot block the rest.
func (s *tokenService) RefreshExpiringTokens(ctx context.Context) error {
	accounts, err := s.ar.ListTokenExpiring(ctx, time.Now().Add(tokenRefreshWindow))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, account := range accounts {

		wg.Add(1)
		semaphore <- struct{}{}

		go func(accountID string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := s.Refresh(ctx, accountID); err != nil {
				slog.Info("unable to refresh token", "account_id", accountID)
			}
		}(account.ID)
	}

	wg.Wait()
	return nil
}
