package advertisement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"ad-canvas-server/modules/common/gemini"
	"ad-canvas-server/modules/common/inflight"
	"ad-canvas-server/modules/common/logger"
	"ad-canvas-server/modules/studio"
)

var (
	// ErrValidation wraps every rejected request body.
	ErrValidation = errors.New("invalid advertisement request")

	// ErrGenerationInFlight is returned when the session already has a generation running.
	ErrGenerationInFlight = errors.New("a generation is already in progress for this session")
)

// MessageCredentialRequired - 키가 없거나 거부되었을 때
const MessageCredentialRequired = "Please select a valid Gemini API key to continue."

// Generator - API 키 단위 광고 생성 (gemini.Factory)
type Generator interface {
	studio.CredentialVerifier
	GenerateAdvertisement(ctx context.Context, apiKey string, req gemini.GenerationRequest) (string, error)
}

// Service - 광고 생성 요청 처리
type Service struct {
	sessions    *studio.SessionManager
	generator   Generator
	guard       inflight.Guard
	inflightTTL time.Duration
}

func NewService(sessions *studio.SessionManager, generator Generator, guard inflight.Guard, inflightTTL time.Duration) *Service {
	return &Service{
		sessions:    sessions,
		generator:   generator,
		guard:       guard,
		inflightTTL: inflightTTL,
	}
}

// Validate - 요청 검증 후 GenerationRequest 로 변환
func Validate(req *GenerateRequest) (gemini.GenerationRequest, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return gemini.GenerationRequest{}, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return gemini.GenerationRequest{}, fmt.Errorf("%w: description must be at most %d characters", ErrValidation, MaxDescriptionLength)
	}

	if req.ProductImage == nil || strings.TrimSpace(req.ProductImage.Data) == "" {
		return gemini.GenerationRequest{}, fmt.Errorf("%w: product image is required", ErrValidation)
	}
	if _, _, err := req.ProductImage.Decode(); err != nil {
		return gemini.GenerationRequest{}, fmt.Errorf("%w: product image: %v", ErrValidation, err)
	}

	var logo *gemini.UploadedImage
	if req.LogoImage != nil && strings.TrimSpace(req.LogoImage.Data) != "" {
		if _, _, err := req.LogoImage.Decode(); err != nil {
			return gemini.GenerationRequest{}, fmt.Errorf("%w: logo image: %v", ErrValidation, err)
		}
		logo = req.LogoImage
	}

	aspectRatio, err := gemini.ParseAspectRatio(req.AspectRatio)
	if err != nil {
		return gemini.GenerationRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	tier, err := gemini.ParseTier(req.Tier)
	if err != nil {
		return gemini.GenerationRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return gemini.GenerationRequest{
		Description: description,
		Product:     *req.ProductImage,
		Logo:        logo,
		AspectRatio: aspectRatio,
		Tier:        tier,
	}, nil
}

// Generate - 세션 상태 전이 + in-flight guard + Gemini 호출
// 반환 error 는 ErrValidation / ErrGenerationInFlight / 인프라 에러 뿐이고
// 생성 실패는 Success=false 인 응답으로 돌려준다
func (s *Service) Generate(ctx context.Context, apiKey string, req *GenerateRequest) (*GenerateResponse, error) {
	genReq, err := Validate(req)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	session := s.sessions.GetOrCreate(sessionID)
	apiKey = s.generator.ResolveKey(strings.TrimSpace(apiKey))

	ready, resp, err := s.ensureReady(ctx, session, apiKey)
	if err != nil {
		return nil, err
	}
	if !ready {
		return resp, nil
	}

	// 생성은 브라우저 연결이 끊겨도 끝까지 진행
	genCtx := context.WithoutCancel(ctx)

	key := inflight.Key(sessionID)
	acquired, err := s.guard.Acquire(genCtx, key, s.inflightTTL)
	if err != nil {
		return nil, fmt.Errorf("in-flight guard: %w", err)
	}
	if !acquired {
		return nil, ErrGenerationInFlight
	}
	defer func() {
		if err := s.guard.Release(genCtx, key); err != nil {
			logger.Warnf("⚠️  [Advertisement] Failed to release in-flight guard for %s: %v", sessionID, err)
		}
	}()

	if _, err := session.Fire(studio.EventSubmit, ""); err != nil {
		if errors.Is(err, studio.ErrInvalidTransition) {
			return nil, ErrGenerationInFlight
		}
		return nil, err
	}

	logger.Infof("🎨 [Advertisement] Session %s: tier=%s, ratio=%s, logo=%v",
		sessionID, genReq.Tier, genReq.AspectRatio, genReq.Logo != nil)

	dataURL, genErr := s.generator.GenerateAdvertisement(genCtx, apiKey, genReq)
	if genErr != nil {
		return s.finishFailed(session, genReq.Tier, genErr), nil
	}

	snapshot, err := session.Fire(studio.EventSucceed, dataURL)
	if err != nil {
		return nil, err
	}

	logger.Infof("✅ [Advertisement] Session %s: advertisement ready", sessionID)
	return &GenerateResponse{
		Success:      true,
		SessionID:    sessionID,
		ImageDataURL: dataURL,
		State:        snapshot.State,
	}, nil
}

// ensureReady - 키 확인 전이거나 미인증 상태면 여기서 확인
// 같은 세션의 동시 요청은 진행 중인 확인 결과를 그대로 사용
func (s *Service) ensureReady(ctx context.Context, session *studio.Session, apiKey string) (bool, *GenerateResponse, error) {
	if !session.State().NeedsCredential() {
		return true, nil, nil
	}

	snapshot, err := s.sessions.EnsureCredential(ctx, session, s.generator, apiKey)
	if err != nil {
		if !errors.Is(err, studio.ErrInvalidTransition) {
			return false, nil, err
		}
		// 다른 요청이 먼저 전이시킴 (예: 이미 생성 중)
		snapshot = session.Snapshot()
	}
	if !snapshot.State.NeedsCredential() {
		return true, nil, nil
	}

	return false, &GenerateResponse{
		Success:        false,
		SessionID:      session.ID(),
		ErrorMessage:   MessageCredentialRequired,
		ErrorCode:      CodeUnauthenticated,
		Reauthenticate: true,
		State:          snapshot.State,
	}, nil
}

func (s *Service) finishFailed(session *studio.Session, tier gemini.Tier, genErr error) *GenerateResponse {
	if gemini.IsCredentialError(genErr) || errors.Is(genErr, gemini.ErrMissingCredential) {
		logger.Warnf("🔑 [Advertisement] Session %s: credential rejected: %v", session.ID(), genErr)
		snapshot, _ := session.Fire(studio.EventCredentialRejected, "")
		return &GenerateResponse{
			Success:        false,
			SessionID:      session.ID(),
			ErrorMessage:   MessageCredentialRequired,
			ErrorCode:      CodeUnauthenticated,
			Reauthenticate: true,
			State:          snapshot.State,
		}
	}

	message := gemini.ClassifyMessage(genErr, tier)
	logger.Errorf("❌ [Advertisement] Session %s: generation failed: %v", session.ID(), genErr)
	snapshot, _ := session.Fire(studio.EventFail, message)
	return &GenerateResponse{
		Success:      false,
		SessionID:    session.ID(),
		ErrorMessage: message,
		ErrorCode:    CodeGeneration,
		State:        snapshot.State,
	}
}
