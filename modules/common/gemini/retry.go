package gemini

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ad-canvas-server/modules/common/logger"
)

// 기본 재시도 설정
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 10 * time.Second
)

// Retrier - rate limit / overload 에러만 지수 백오프로 재시도
// 대기 시간: BaseDelay × 2^attempt_index (기본값 10s, 20s)
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// timer - nil 이면 실제 타이머 사용 (테스트에서 교체)
	timer backoff.Timer
}

// NewRetrier - Retrier 생성 (0 이하 값은 기본값으로 대체)
func NewRetrier(maxAttempts int, baseDelay time.Duration) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Retrier{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
	}
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = time.Duration(math.MaxInt64)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.MaxAttempts-1)), ctx)
}

// Retry - op 를 최대 MaxAttempts 번 실행
//   - 성공하면 즉시 반환
//   - zero quota ("limit: 0") 는 대기/재시도 없이 ErrZeroQuota 로 중단
//   - 429 / RESOURCE_EXHAUSTED / quota / 503 은 대기 후 재시도
//   - 그 외 에러는 즉시 반환
//   - 모든 시도가 실패하면 마지막 에러 반환
func Retry[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	if r == nil {
		r = NewRetrier(DefaultMaxAttempts, DefaultBaseDelay)
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		if attempt > 1 {
			logger.Infof("   🔄 [Gemini Retry] Attempt %d/%d", attempt, r.MaxAttempts)
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Infof("✅ [Gemini Retry] Success on attempt %d/%d", attempt, r.MaxAttempts)
			}
			return result, nil
		}

		svcErr := newServiceError(err)
		switch {
		case svcErr.Kind == KindZeroQuota:
			logger.Errorf("❌ [Gemini Retry] Quota is zero, aborting without retry: %v", err)
			return result, backoff.Permanent(svcErr)
		case svcErr.Kind.Retryable():
			logger.Warnf("⚠️  [Gemini Retry] %s on attempt %d/%d: %v", svcErr.Kind, attempt, r.MaxAttempts, err)
			return result, err
		default:
			logger.Errorf("❌ [Gemini Retry] Non-retryable %s error on attempt %d: %v", svcErr.Kind, attempt, err)
			return result, backoff.Permanent(err)
		}
	}

	notify := func(err error, next time.Duration) {
		logger.Infof("   ⏳ [Gemini Retry] Waiting %s before retry...", next)
	}

	result, err := backoff.RetryNotifyWithTimerAndData(operation, r.policy(ctx), notify, r.timer)
	if err != nil && attempt >= r.MaxAttempts && newServiceError(err).Kind.Retryable() {
		logger.Warnf("⚠️  [Gemini Retry] Exhausted all %d attempts", r.MaxAttempts)
	}
	return result, err
}
