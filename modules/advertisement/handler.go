package advertisement

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"ad-canvas-server/modules/common/logger"
	"ad-canvas-server/modules/studio"
)

// maxBodyBytes - base64 로 인코딩된 제품 + 로고 이미지
const maxBodyBytes = 32 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/advertisement/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
}

// HandleGenerate - POST /api/advertisement/generate
// 제품 사진 (+ 로고) 과 설명으로 광고 이미지 생성
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+studio.APIKeyHeader)

	// OPTIONS 요청 처리
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Service 확인
	if h.service == nil {
		logger.Errorf("❌ [Advertisement] Service not initialized")
		writeResponse(w, http.StatusServiceUnavailable, &GenerateResponse{
			ErrorMessage: "Service unavailable",
			ErrorCode:    CodeUnavailable,
		})
		return
	}

	// Request 파싱
	var req GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.Warnf("❌ [Advertisement] Invalid request: %v", err)
		writeResponse(w, http.StatusBadRequest, &GenerateResponse{
			ErrorMessage: "Invalid request format",
			ErrorCode:    CodeValidation,
		})
		return
	}

	response, err := h.service.Generate(r.Context(), r.Header.Get(studio.APIKeyHeader), &req)
	switch {
	case errors.Is(err, ErrValidation):
		writeResponse(w, http.StatusBadRequest, &GenerateResponse{
			SessionID:    req.SessionID,
			ErrorMessage: err.Error(),
			ErrorCode:    CodeValidation,
		})
		return
	case errors.Is(err, ErrGenerationInFlight):
		writeResponse(w, http.StatusConflict, &GenerateResponse{
			SessionID:    req.SessionID,
			ErrorMessage: "A generation is already in progress. Please wait for it to finish.",
			ErrorCode:    CodeInFlight,
			State:        studio.StateGenerating,
		})
		return
	case err != nil:
		logger.Errorf("❌ [Advertisement] Generation failed: %v", err)
		writeResponse(w, http.StatusServiceUnavailable, &GenerateResponse{
			SessionID:    req.SessionID,
			ErrorMessage: "Service unavailable",
			ErrorCode:    CodeUnavailable,
		})
		return
	}

	logger.Infof("✅ [Advertisement] Response sent: success=%v, state=%s", response.Success, response.State)
	writeResponse(w, http.StatusOK, response)
}

func writeResponse(w http.ResponseWriter, status int, resp *GenerateResponse) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("Error encoding response: %v", err)
	}
}
