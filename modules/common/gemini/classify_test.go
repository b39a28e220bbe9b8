package gemini

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestNewServiceError_Kinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"zero quota message", zeroQuotaErr(), KindZeroQuota},
		{
			"zero quota details",
			genai.APIError{
				Code:    429,
				Status:  "RESOURCE_EXHAUSTED",
				Message: "Quota exceeded",
				Details: []map[string]any{{
					"@type":      "type.googleapis.com/google.rpc.QuotaFailure",
					"violations": []any{map[string]any{"quotaMetric": "requests", "quotaValue": "0"}},
				}},
			},
			KindZeroQuota,
		},
		{"rate limited 429", rateLimitErr(), KindRateLimited},
		{"rate limited status only", genai.APIError{Status: "RESOURCE_EXHAUSTED", Message: "slow down"}, KindRateLimited},
		{"limit 10 is not zero", genai.APIError{Code: 429, Message: "limit: 10, model: x"}, KindRateLimited},
		{"overloaded", overloadedErr(), KindOverloaded},
		{"permission denied", genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "denied"}, KindPermissionDenied},
		{"not found", genai.APIError{Code: 404, Status: "NOT_FOUND", Message: "models/x is not found"}, KindNotFound},
		{"unauthenticated", genai.APIError{Code: 401, Status: "UNAUTHENTICATED", Message: "no"}, KindInvalidCredential},
		{
			"api key invalid on 400",
			genai.APIError{
				Code:    400,
				Status:  "INVALID_ARGUMENT",
				Message: "API key not valid. Please pass a valid API key.",
				Details: []map[string]any{{"reason": "API_KEY_INVALID"}},
			},
			KindInvalidCredential,
		},
		{"quota text on 400", genai.APIError{Code: 400, Message: "quota exceeded"}, KindRateLimited},
		{"limit text is not retried", genai.APIError{Code: 400, Message: "Daily request limit exceeded for this project"}, KindUnknown},
		{"plain error", errors.New("connection reset"), KindUnknown},
		{"wrapped api error", fmt.Errorf("call failed: %w", overloadedErr()), KindOverloaded},
		{"api error pointer", &genai.APIError{Code: 404, Status: "NOT_FOUND"}, KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newServiceError(tt.err).Kind)
		})
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		tier Tier
		want string
	}{
		{"zero quota wins over rate limit", zeroQuotaErr(), TierPro, MessageZeroQuota},
		{"pro permission denied", genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "denied"}, TierPro, MessageProBillingRequired},
		{"standard permission denied keeps raw message", genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "denied"}, TierStandard, "denied"},
		{"not found", genai.APIError{Code: 404, Status: "NOT_FOUND", Message: "models/x"}, TierPro, MessageModelNotFound},
		{"rate limited", rateLimitErr(), TierStandard, MessageRateLimited},
		{"limit in message", genai.APIError{Code: 400, Message: "Daily request limit exceeded for this project"}, TierStandard, MessageRateLimited},
		{"not found wins over limit text", genai.APIError{Code: 404, Status: "NOT_FOUND", Message: "model over limit"}, TierStandard, MessageModelNotFound},
		{"raw message", errors.New("something odd"), TierStandard, "something odd"},
		{"empty message", genai.APIError{Code: 500}, TierStandard, MessageGenericFailure},
		{"nil", nil, TierStandard, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMessage(tt.err, tt.tier))
		})
	}
}

func TestClassifyMessage_UnwrapsGenerationError(t *testing.T) {
	genErr := newGenerationError(zeroQuotaErr(), TierStandard)
	assert.Equal(t, MessageZeroQuota, genErr.Message)
	assert.Equal(t, MessageZeroQuota, ClassifyMessage(genErr, TierStandard))
	assert.ErrorIs(t, genErr, ErrZeroQuota)

	var apiErr genai.APIError
	assert.ErrorAs(t, genErr, &apiErr, "the SDK error stays in the chain")
}

func TestIsCredentialError(t *testing.T) {
	assert.True(t, IsCredentialError(genai.APIError{Code: 401, Status: "UNAUTHENTICATED"}))
	assert.True(t, IsCredentialError(newGenerationError(genai.APIError{Code: 401}, TierStandard)))
	assert.False(t, IsCredentialError(genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}))
	assert.False(t, IsCredentialError(rateLimitErr()))
	assert.False(t, IsCredentialError(nil))
}
