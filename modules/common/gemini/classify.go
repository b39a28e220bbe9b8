package gemini

import (
	"errors"
	"strings"
)

// User facing messages, one per failure category.
const (
	MessageZeroQuota = "Access restricted: the quota for this model is zero on your API key. " +
		"Enable the Generative Language API for your Google Cloud project or switch to a supported region, then try again."
	MessageProBillingRequired = "The Pro tier requires a Google Cloud project with billing enabled. " +
		"Enable billing for your API key or switch back to the Standard (free) tier."
	MessageModelNotFound = "The selected model tier is not accessible with your current API key. " +
		"Try the Standard tier or select a different key."
	MessageRateLimited = "Free tier limit reached. Please wait a minute and try again."
	MessageGenericFailure = "Failed to generate advertisement."
)

// ClassifyMessage maps a failure to exactly one user facing message. Priority:
// zero quota, permission denied on the pro tier, model not found, rate limited
// (including any other message that mentions a limit), then the raw message.
func ClassifyMessage(err error, tier Tier) string {
	if err == nil {
		return ""
	}

	var genErr *GenerationError
	if errors.As(err, &genErr) && genErr.Err != nil {
		err = genErr.Err
	}

	svcErr := newServiceError(err)
	switch {
	case svcErr.Kind == KindZeroQuota:
		return MessageZeroQuota
	case svcErr.Kind == KindPermissionDenied && tier == TierPro:
		return MessageProBillingRequired
	case svcErr.Kind == KindNotFound:
		return MessageModelNotFound
	case svcErr.Kind == KindRateLimited:
		return MessageRateLimited
	case svcErr.Kind != KindInvalidCredential && strings.Contains(strings.ToLower(svcErr.Message), "limit"):
		// 재시도 대상은 아니지만 사용자에게는 같은 안내
		return MessageRateLimited
	}

	if svcErr.Message != "" {
		return svcErr.Message
	}
	return MessageGenericFailure
}

// IsCredentialError reports whether the failure means the API key itself is
// invalid or expired, in which case the studio asks the user for a new key.
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind == KindInvalidCredential
	}
	return newServiceError(err).Kind == KindInvalidCredential
}

// newGenerationError keeps the tagged ServiceError in the chain so callers can
// match ErrZeroQuota no matter which call produced the failure.
func newGenerationError(err error, tier Tier) *GenerationError {
	svcErr := newServiceError(err)
	return &GenerationError{
		Kind:    svcErr.Kind,
		Message: ClassifyMessage(svcErr, tier),
		Err:     svcErr,
	}
}
