package gemini

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Tier selects between the free image model and the billable high resolution one.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// ParseTier accepts "standard" or "pro"; empty means standard.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierStandard:
		return TierStandard, nil
	case TierPro:
		return TierPro, nil
	default:
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, s)
	}
}

// AspectRatio is the output frame requested from the model.
type AspectRatio string

const (
	AspectSquare     AspectRatio = "1:1"
	AspectStory      AspectRatio = "9:16"
	AspectWidescreen AspectRatio = "16:9"
	AspectPortrait   AspectRatio = "3:4"
	AspectLandscape  AspectRatio = "4:3"
)

var aspectRatioNames = map[string]AspectRatio{
	"square":     AspectSquare,
	"story":      AspectStory,
	"vertical":   AspectStory,
	"widescreen": AspectWidescreen,
	"portrait":   AspectPortrait,
	"landscape":  AspectLandscape,
}

// ParseAspectRatio accepts either a name ("square", "story", ...) or the ratio itself ("1:1").
// Empty means square.
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return AspectSquare, nil
	}
	if ratio, ok := aspectRatioNames[s]; ok {
		return ratio, nil
	}
	switch ratio := AspectRatio(s); ratio {
	case AspectSquare, AspectStory, AspectWidescreen, AspectPortrait, AspectLandscape:
		return ratio, nil
	}
	return "", fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidRequest, s)
}

// UploadedImage is an image picked in the browser: base64 text, optionally still
// carrying its data URL prefix, plus the MIME type.
type UploadedImage struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType,omitempty"`
}

// StripDataURLPrefix removes a leading "data:<mime>;base64," and returns the bare
// payload together with the MIME type found in the prefix (empty when there was none).
func StripDataURLPrefix(data string) (payload string, mimeType string) {
	if !strings.HasPrefix(data, "data:") {
		return data, ""
	}
	header, payload, found := strings.Cut(data, ",")
	if !found {
		return data, ""
	}
	header = strings.TrimPrefix(header, "data:")
	mimeType, _, _ = strings.Cut(header, ";")
	return payload, mimeType
}

// Decode returns the raw image bytes and the MIME type to send.
func (img UploadedImage) Decode() ([]byte, string, error) {
	payload, prefixMime := StripDataURLPrefix(strings.TrimSpace(img.Data))
	if payload == "" {
		return nil, "", fmt.Errorf("%w: image data is empty", ErrInvalidRequest)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: image is not valid base64: %v", ErrInvalidRequest, err)
	}

	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = prefixMime
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("%w: unsupported image type %q", ErrInvalidRequest, mimeType)
	}
	return data, mimeType, nil
}

// GenerationRequest is everything the studio collected for one generation.
type GenerationRequest struct {
	Description string
	Product     UploadedImage
	Logo        *UploadedImage
	AspectRatio AspectRatio
	Tier        Tier
}

// ModelSet maps tiers to model identifiers.
type ModelSet struct {
	Standard     string
	Pro          string
	ProImageSize string
}

// ModelFor returns the model id and the output size hint ("" for none) for a tier.
func (m ModelSet) ModelFor(tier Tier) (model string, imageSize string) {
	if tier == TierPro {
		return m.Pro, m.ProImageSize
	}
	return m.Standard, ""
}

// AssembledRequest is the payload of one GenerateContent call.
type AssembledRequest struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// Part labels sent ahead of each image.
const (
	ProductLabel = "PRODUCT IMAGE:"
	LogoLabel    = "LOGO IMAGE (apply this logo to the product):"
)

var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// BuildRequest turns a GenerationRequest into the multi-part payload for the model.
// It performs no network call.
func BuildRequest(req GenerationRequest, models ModelSet) (*AssembledRequest, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}

	productData, productMime, err := req.Product.Decode()
	if err != nil {
		return nil, fmt.Errorf("product image: %w", err)
	}

	parts := []*genai.Part{
		genai.NewPartFromText(ProductLabel),
		genai.NewPartFromBytes(productData, productMime),
	}

	hasLogo := req.Logo != nil && strings.TrimSpace(req.Logo.Data) != ""
	if hasLogo {
		logoData, logoMime, err := req.Logo.Decode()
		if err != nil {
			return nil, fmt.Errorf("logo image: %w", err)
		}
		parts = append(parts,
			genai.NewPartFromText(LogoLabel),
			genai.NewPartFromBytes(logoData, logoMime),
		)
	}

	parts = append(parts, genai.NewPartFromText(buildInstruction(description, hasLogo)))

	aspectRatio := req.AspectRatio
	if aspectRatio == "" {
		aspectRatio = AspectSquare
	}
	model, imageSize := models.ModelFor(req.Tier)

	safety := make([]*genai.SafetySetting, 0, len(safetyCategories))
	for _, category := range safetyCategories {
		safety = append(safety, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
		})
	}

	return &AssembledRequest{
		Model:    model,
		Contents: []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		Config: &genai.GenerateContentConfig{
			ImageConfig: &genai.ImageConfig{
				AspectRatio: string(aspectRatio),
				ImageSize:   imageSize,
			},
			SafetySettings: safety,
		},
	}, nil
}

func buildInstruction(description string, hasLogo bool) string {
	var b strings.Builder
	b.WriteString("Create a professional marketing advertisement photograph.\n")
	b.WriteString("Place the product from the PRODUCT IMAGE into a newly generated background that matches this description: ")
	b.WriteString(description)
	b.WriteString("\n")
	b.WriteString("Keep the product itself unchanged and integrate it naturally into the scene.\n")
	b.WriteString("Use photorealistic lighting, shadows and reflections consistent with the generated environment.\n")
	if hasLogo {
		b.WriteString("Composite the logo from the LOGO IMAGE onto the product surface. ")
		b.WriteString("Follow the surface geometry, curvature and perspective, and match the scene lighting so the logo looks printed on the product.\n")
	}
	b.WriteString("Do not render any text, captions, slogans or typography overlays.")
	return b.String()
}
