package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// Factory - API 키별 Client 캐시
// 브라우저마다 다른 키를 보낼 수 있어서 키 단위로 클라이언트를 만든다
type Factory struct {
	base Options

	mu      sync.Mutex
	clients map[string]*Client

	newModels func(ctx context.Context, opts Options) (modelService, error)
}

// NewFactory - base 의 APIKey 는 요청에 키가 없을 때 쓰는 서버 기본 키
func NewFactory(base Options) *Factory {
	return &Factory{
		base:      base,
		clients:   make(map[string]*Client),
		newModels: newGenaiModels,
	}
}

func newGenaiModels(ctx context.Context, opts Options) (modelService, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	genaiClient, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Genai client: %w", err)
	}
	return genaiClient.Models, nil
}

// ResolveKey - 요청 키가 비어 있으면 서버 기본 키
func (f *Factory) ResolveKey(apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	return f.base.APIKey
}

// ForKey - 키에 해당하는 Client (없으면 생성)
func (f *Factory) ForKey(ctx context.Context, apiKey string) (*Client, error) {
	apiKey = f.ResolveKey(apiKey)
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	// 키 원문은 map 에 남기지 않음
	sum := sha256.Sum256([]byte(apiKey))
	cacheKey := hex.EncodeToString(sum[:])

	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[cacheKey]; ok {
		return client, nil
	}

	opts := f.base
	opts.APIKey = apiKey
	models, err := f.newModels(ctx, opts)
	if err != nil {
		return nil, err
	}
	client := newClient(models, opts)
	f.clients[cacheKey] = client
	return client, nil
}

// VerifyCredential - 키 유효성 확인
func (f *Factory) VerifyCredential(ctx context.Context, apiKey string) error {
	client, err := f.ForKey(ctx, apiKey)
	if err != nil {
		return err
	}
	return client.VerifyCredential(ctx)
}

// GenerateAdvertisement - 키에 해당하는 Client 로 광고 생성
func (f *Factory) GenerateAdvertisement(ctx context.Context, apiKey string, req GenerationRequest) (string, error) {
	client, err := f.ForKey(ctx, apiKey)
	if err != nil {
		return "", err
	}
	return client.GenerateAdvertisement(ctx, req)
}
