package advertisement

import (
	"ad-canvas-server/modules/common/gemini"
	"ad-canvas-server/modules/studio"
)

// MaxDescriptionLength - description 최대 길이 (문자 수)
const MaxDescriptionLength = 2000

// Error codes returned in GenerateResponse.ErrorCode
const (
	CodeValidation      = "validation"
	CodeInFlight        = "generation_in_flight"
	CodeUnauthenticated = "unauthenticated"
	CodeGeneration      = "generation_failed"
	CodeUnavailable     = "service_unavailable"
)

// GenerateRequest - POST /api/advertisement/generate
type GenerateRequest struct {
	SessionID    string                `json:"sessionId"`
	Description  string                `json:"description"`
	ProductImage *gemini.UploadedImage `json:"productImage"`
	LogoImage    *gemini.UploadedImage `json:"logoImage,omitempty"`
	AspectRatio  string                `json:"aspectRatio,omitempty"` // square | story | widescreen | portrait | landscape | "16:9" ...
	Tier         string                `json:"tier,omitempty"`        // standard | pro
}

// GenerateResponse - 응답
type GenerateResponse struct {
	Success        bool         `json:"success"`
	SessionID      string       `json:"sessionId,omitempty"`
	ImageDataURL   string       `json:"imageDataUrl,omitempty"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
	ErrorCode      string       `json:"errorCode,omitempty"`
	Reauthenticate bool         `json:"reauthenticate,omitempty"`
	State          studio.State `json:"state,omitempty"`
}
