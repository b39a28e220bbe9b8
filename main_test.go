package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-canvas-server/modules/advertisement"
	"ad-canvas-server/modules/common/config"
	"ad-canvas-server/modules/common/gemini"
	"ad-canvas-server/modules/common/inflight"
	"ad-canvas-server/modules/studio"
)

func testRouter() http.Handler {
	sessions := studio.NewSessionManager()
	factory := gemini.NewFactory(gemini.Options{})
	svc := advertisement.NewService(sessions, factory, inflight.NewMemoryGuard(), time.Minute)
	return newRouter(studio.NewHandler(sessions, factory), advertisement.NewHandler(svc))
}

func TestHealthCheck(t *testing.T) {
	router := testRouter()

	for _, path := range []string{"/", "/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "healthy")
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRouter_StudioWithoutServerKey(t *testing.T) {
	router := testRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/studio/s1/credential", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(studio.StateUnauthenticated))
}

func TestNewInflightGuard(t *testing.T) {
	guard, closeGuard := newInflightGuard(context.Background(), &config.Config{})
	defer closeGuard()
	assert.IsType(t, &inflight.MemoryGuard{}, guard)

	mr := miniredis.RunT(t)
	guard, closeRedis := newInflightGuard(context.Background(), &config.Config{RedisHost: mr.Host(), RedisPort: mr.Port()})
	defer closeRedis()
	require.IsType(t, &inflight.RedisGuard{}, guard)

	ok, err := guard.Acquire(context.Background(), inflight.Key("s1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(inflight.Key("s1")))
}
