package service

import (
	"context"
	"log/slog"
	"time"

	config "github.com/forumgram/publisher/configs"
	"github.com/forumgram/publisher/internal/models"
	"github.com/forumgram/publisher/internal/repository"
	"github.com/forumgram/publisher/internal/transfer"
	"github.com/forumgram/publisher/pkg/utils"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// AccountService manages the publishing accounts the pipeline posts to.
type AccountService interface {
	Register(ctx context.Context, reg *transfer.AccountRegistration) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	Info(ctx context.Context, id string) (*models.Account, error)
	History(ctx context.Context, id string, limit int) ([]*models.PublishHistory, error)
	Deactivate(ctx context.Context, id string) error
}

type accountService struct {
	cfg config.Config
	ar  repository.AccountRepository
	ph  repository.PublishHistoryRepository
}

func NewAccountService(cfg config.Config, ar repository.AccountRepository, ph repository.PublishHistoryRepository) AccountService {
	return &accountService{
		cfg: cfg,
		ar:  ar,
		ph:  ph,
	}
}

// Register stores a new account with its token encrypted at rest. The
// external user ID must not already be registered.
func (s *accountService) Register(ctx context.Context, reg *transfer.AccountRegistration) (*models.Account, error) {
	existing, err := s.ar.GetByExternalUserID(ctx, reg.ExternalUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateAccount
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	encrypted, err := utils.Encrypt([]byte(reg.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		ID:             id,
		ExternalUserID: reg.ExternalUserID,
		AccessToken:    encrypted,
		TokenExpiresAt: reg.TokenExpiresAt,
		PublishPolicy:  reg.PublishPolicy,
		BatchSize:      reg.BatchSize,
		ScheduledTimes: reg.ScheduledTimes,
		IsActive:       true,
	}
	if account.TokenExpiresAt.IsZero() {
		// Long-lived tokens last 60 days.
		account.TokenExpiresAt = time.Now().Add(60 * 24 * time.Hour)
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.ar.Create(ctx, account); err != nil {
		return nil, err
	}

	slog.Info("account registered", "account_id", id, "policy", account.PublishPolicy)
	return account, nil
}

func (s *accountService) List(ctx context.Context) ([]*models.Account, error) {
	return s.ar.ListActive(ctx)
}

func (s *accountService) Info(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.ar.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (s *accountService) History(ctx context.Context, id string, limit int) ([]*models.PublishHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.ph.ListByAccountID(ctx, id, limit)
}

// Deactivate stops all publishing for the account. Items already queued keep
// their history; the account row stays for reference.
func (s *accountService) Deactivate(ctx context.Context, id string) error {
	return s.ar.Deactivate(ctx, id)
}
