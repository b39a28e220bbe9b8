package gemini

import (
	"context"
	"encoding/base64"
	"time"

	"google.golang.org/genai"

	"ad-canvas-server/modules/common/logger"
)

// Options - 클라이언트 생성 시 명시적으로 전달하는 설정 (환경변수 직접 조회 없음)
type Options struct {
	APIKey string
	// BaseURL - 비어 있으면 SDK 기본 endpoint
	BaseURL string

	StandardModel string
	ProModel      string
	ProImageSize  string

	MaxAttempts int
	BaseDelay   time.Duration
}

// modelService - genai.Models 중 사용하는 부분
type modelService interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// Client - 광고 이미지 생성 클라이언트
type Client struct {
	models   modelService
	modelSet ModelSet
	retrier  *Retrier
}

// NewClient - Genai 클라이언트 초기화
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingCredential
	}

	models, err := newGenaiModels(ctx, opts)
	if err != nil {
		return nil, err
	}
	return newClient(models, opts), nil
}

func newClient(models modelService, opts Options) *Client {
	modelSet := ModelSet{
		Standard:     opts.StandardModel,
		Pro:          opts.ProModel,
		ProImageSize: opts.ProImageSize,
	}
	if modelSet.Standard == "" {
		modelSet.Standard = "gemini-2.5-flash-image"
	}
	if modelSet.Pro == "" {
		modelSet.Pro = "gemini-3-pro-image-preview"
	}
	if modelSet.ProImageSize == "" {
		modelSet.ProImageSize = "2K"
	}

	return &Client{
		models:   models,
		modelSet: modelSet,
		retrier:  NewRetrier(opts.MaxAttempts, opts.BaseDelay),
	}
}

// Models - tier 별 모델 설정
func (c *Client) Models() ModelSet {
	return c.modelSet
}

// GenerateAdvertisement - 광고 이미지 생성 후 data URL 로 반환
// 실패 시 *GenerationError (사용자 표시용 메시지 포함)
func (c *Client) GenerateAdvertisement(ctx context.Context, req GenerationRequest) (string, error) {
	assembled, err := BuildRequest(req, c.modelSet)
	if err != nil {
		return "", err
	}

	logger.Infof("🎨 [Gemini] Generating advertisement - model: %s, ratio: %s, logo: %v, description: %s",
		assembled.Model, assembled.Config.ImageConfig.AspectRatio, req.Logo != nil, truncateString(req.Description, 50))

	dataURL, err := Retry(ctx, c.retrier, func(ctx context.Context) (string, error) {
		result, err := c.models.GenerateContent(ctx, assembled.Model, assembled.Contents, assembled.Config)
		if err != nil {
			return "", err
		}
		return extractImage(result)
	})
	if err != nil {
		genErr := newGenerationError(err, req.Tier)
		logger.Errorf("❌ [Gemini] Generation failed (%s): %v", genErr.Kind, err)
		return "", genErr
	}

	logger.Infof("✅ [Gemini] Advertisement generated (%d chars)", len(dataURL))
	return dataURL, nil
}

// VerifyCredential - API 키 유효성 확인 (standard 모델 조회)
func (c *Client) VerifyCredential(ctx context.Context) error {
	if _, err := c.models.Get(ctx, c.modelSet.Standard, nil); err != nil {
		return newGenerationError(err, TierStandard)
	}
	return nil
}

// extractImage - 응답에서 첫 번째 InlineData 이미지를 data URL 로 변환
func extractImage(result *genai.GenerateContentResponse) (string, error) {
	if result != nil {
		for _, candidate := range result.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(part.InlineData.Data), nil
			}
		}
	}

	return "", &ServiceError{
		Kind:    KindNoImage,
		Message: "Model returned no image.",
		Err:     ErrNoImage,
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
