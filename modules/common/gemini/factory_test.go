package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func newTestFactory(base Options, models *fakeModels) (*Factory, *[]string) {
	var keys []string
	f := NewFactory(base)
	f.newModels = func(ctx context.Context, opts Options) (modelService, error) {
		keys = append(keys, opts.APIKey)
		return models, nil
	}
	return f, &keys
}

func TestFactory_CachesPerKey(t *testing.T) {
	f, keys := newTestFactory(Options{APIKey: "server-key"}, &fakeModels{})
	ctx := context.Background()

	a, err := f.ForKey(ctx, "user-key")
	require.NoError(t, err)
	b, err := f.ForKey(ctx, "user-key")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = f.ForKey(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"user-key", "server-key"}, *keys)
}

func TestFactory_MissingKey(t *testing.T) {
	f, _ := newTestFactory(Options{}, &fakeModels{})

	_, err := f.ForKey(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.ErrorIs(t, f.VerifyCredential(context.Background(), ""), ErrMissingCredential)
}

func TestFactory_ClientBuildError(t *testing.T) {
	f := NewFactory(Options{})
	boom := errors.New("boom")
	f.newModels = func(ctx context.Context, opts Options) (modelService, error) {
		return nil, boom
	}

	_, err := f.GenerateAdvertisement(context.Background(), "key", testRequest(TierStandard))
	assert.ErrorIs(t, err, boom)
}

func TestFactory_GenerateAndVerify(t *testing.T) {
	models := &fakeModels{
		responses: []*genai.GenerateContentResponse{imageResponse([]byte("img"), "image/png")},
		getErr:    genai.APIError{Code: 401, Status: "UNAUTHENTICATED"},
	}
	f, _ := newTestFactory(Options{}, models)

	dataURL, err := f.GenerateAdvertisement(context.Background(), "key", testRequest(TierStandard))
	require.NoError(t, err)
	assert.NotEmpty(t, dataURL)

	err = f.VerifyCredential(context.Background(), "key")
	assert.True(t, IsCredentialError(err))
}
