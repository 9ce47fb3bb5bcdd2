package instagram

import (
	"fmt"

	"github.com/forumgram/publisher/internal/transfer"
)

// ErrorKind buckets every Graph API failure into the retry classes the
// publisher acts on. Classification happens in exactly one place (Classify)
// so call sites never match on raw codes.
type ErrorKind string

const (
	// KindToken covers auth and permission failures. Never retried with the
	// same token; surfaced so the token refresh path can run.
	KindToken ErrorKind = "token"
	// KindRateLimit means the same call may be retried after backoff.
	KindRateLimit ErrorKind = "rate_limit"
	// KindContent is a policy or media violation. Terminal.
	KindContent ErrorKind = "content"
	// KindMediaNotReady is the publish-before-container-finished case; the
	// publish call itself is retried, the container is not recreated.
	KindMediaNotReady ErrorKind = "media_not_ready"
	// KindNetwork covers transport failures and transient platform errors.
	KindNetwork ErrorKind = "network"
	// KindTimeout is the container readiness poll exceeding its wall clock.
	KindTimeout ErrorKind = "timeout"
	KindUnknown ErrorKind = "unknown"
)

type PlatformError struct {
	Kind    ErrorKind
	Code    int
	Subcode int
	Message string
	cause   error
}

func (e *PlatformError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("instagram: %s (code %d, subcode %d): %s", e.Kind, e.Code, e.Subcode, e.Message)
	}
	return fmt.Sprintf("instagram: %s: %s", e.Kind, e.Message)
}

func (e *PlatformError) Unwrap() error { return e.cause }

func networkError(err error) *PlatformError {
	return &PlatformError{Kind: KindNetwork, Message: err.Error(), cause: err}
}

func timeoutError(msg string) *PlatformError {
	return &PlatformError{Kind: KindTimeout, Message: msg}
}

// Classify maps a decoded Graph error payload to a PlatformError. Code
// buckets follow the platform's published error tables: throttling codes map
// to rate_limit, OAuth/permission codes to token, media validation to
// content, and the "media not available yet" publish race to media_not_ready.
func Classify(resp *transfer.InstagramErrorResponse) *PlatformError {
	e := resp.Error
	pe := &PlatformError{Code: e.Code, Subcode: e.ErrorSubcode, Message: e.Message}
	if pe.Message == "" {
		pe.Message = "unspecified platform error"
	}

	switch {
	case e.Code == 9007 || e.ErrorSubcode == 2207027:
		pe.Kind = KindMediaNotReady
	case e.Code == 4 || e.Code == 17 || e.Code == 32 || e.Code == 613:
		pe.Kind = KindRateLimit
	case e.Code == 102 || e.Code == 190 || e.Code == 10 || (e.Code >= 200 && e.Code <= 299):
		pe.Kind = KindToken
	case e.Code == 24 || e.Code == 9004 || e.Code == 36003 ||
		e.ErrorSubcode == 2207026 || e.ErrorSubcode == 2207028:
		pe.Kind = KindContent
	case e.IsTransient:
		pe.Kind = KindNetwork
	case e.Type == "OAuthException":
		pe.Kind = KindToken
	default:
		pe.Kind = KindUnknown
	}
	return pe
}
