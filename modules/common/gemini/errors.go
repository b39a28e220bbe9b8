package gemini

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

// ErrorKind is the failure category of a single call to the image model.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindZeroQuota
	KindRateLimited
	KindOverloaded
	KindPermissionDenied
	KindNotFound
	KindInvalidCredential
	KindNoImage
)

func (k ErrorKind) String() string {
	switch k {
	case KindZeroQuota:
		return "zero_quota"
	case KindRateLimited:
		return "rate_limited"
	case KindOverloaded:
		return "overloaded"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindNoImage:
		return "no_image"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry controller may try again after this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindOverloaded
}

var (
	// ErrZeroQuota is the fatal signal raised when the account quota for a model is provisioned at zero.
	ErrZeroQuota = errors.New("gemini: quota is provisioned at zero")

	// ErrNoImage is returned when a response carries no inline image part.
	ErrNoImage = errors.New("model returned no image")

	// ErrInvalidRequest wraps every request assembly / validation failure.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrMissingCredential is returned when a client is built without an API key.
	ErrMissingCredential = errors.New("gemini: API key is required")
)

// ServiceError is the tagged form of a transport failure from the image model.
type ServiceError struct {
	Kind       ErrorKind
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gemini %s (%d %s): %s", e.Kind, e.StatusCode, e.Status, e.Message)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is makes every zero-quota ServiceError match ErrZeroQuota.
func (e *ServiceError) Is(target error) bool {
	return target == ErrZeroQuota && e.Kind == KindZeroQuota
}

// GenerationError is what the client hands back to callers: the category plus a
// message that can be shown to the user as is.
type GenerationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	return e.Message
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

var zeroQuotaPattern = regexp.MustCompile(`limit:\s*0\b`)

// newServiceError converts any error returned by the SDK into a ServiceError.
// Zero quota is checked before rate limiting because both messages mention a limit.
func newServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	apiErr, ok := asAPIError(err)
	if !ok {
		return &ServiceError{Kind: KindUnknown, Message: err.Error(), Err: err}
	}

	out := &ServiceError{
		StatusCode: apiErr.Code,
		Status:     apiErr.Status,
		Message:    apiErr.Message,
		Err:        err,
	}
	lower := strings.ToLower(apiErr.Message)

	switch {
	case zeroQuotaPattern.MatchString(apiErr.Message) || hasZeroQuotaViolation(apiErr.Details):
		out.Kind = KindZeroQuota
	case isCredentialFailure(apiErr, lower):
		out.Kind = KindInvalidCredential
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
		out.Kind = KindRateLimited
	case apiErr.Code == http.StatusServiceUnavailable || apiErr.Status == "UNAVAILABLE":
		out.Kind = KindOverloaded
	case apiErr.Code == http.StatusForbidden || apiErr.Status == "PERMISSION_DENIED":
		out.Kind = KindPermissionDenied
	case apiErr.Code == http.StatusNotFound || apiErr.Status == "NOT_FOUND":
		out.Kind = KindNotFound
	case strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit"):
		out.Kind = KindRateLimited
	default:
		out.Kind = KindUnknown
	}
	return out
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func isCredentialFailure(apiErr genai.APIError, lowerMessage string) bool {
	if apiErr.Code == http.StatusUnauthorized || apiErr.Status == "UNAUTHENTICATED" {
		return true
	}
	if strings.Contains(lowerMessage, "api key not valid") || strings.Contains(lowerMessage, "api key expired") {
		return true
	}
	for _, detail := range apiErr.Details {
		if reason, _ := detail["reason"].(string); reason == "API_KEY_INVALID" {
			return true
		}
	}
	return false
}

// hasZeroQuotaViolation looks for QuotaFailure details whose quota value is 0.
func hasZeroQuotaViolation(details []map[string]any) bool {
	for _, detail := range details {
		violations, _ := detail["violations"].([]any)
		for _, v := range violations {
			violation, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if value, ok := violation["quotaValue"].(string); ok && value == "0" {
				return true
			}
		}
	}
	return false
}
