package service

import "errors"

// Pipeline error taxonomy. Callers branch with errors.Is; the transport
// layer maps these onto protocol error strings.
var (
	ErrDuplicateItem     = errors.New("an active item already references this content for the account")
	ErrItemNotFound      = errors.New("content item not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrDuplicateAccount  = errors.New("account already registered for this external user")
	ErrGroupNotFound     = errors.New("carousel group not found")
	ErrRetryExhausted    = errors.New("retry limit reached")
	ErrInsufficientItems = errors.New("not enough ungrouped ready items")
	ErrAccountBusy       = errors.New("another publish is in flight for this account")
	ErrTokenExpired      = errors.New("access token expired")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCarouselSize      = errors.New("carousel size must be between 2 and 10")
	ErrValidation        = errors.New("invalid request")
)
