package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"ad-canvas-server/modules/advertisement"
	"ad-canvas-server/modules/common/config"
	"ad-canvas-server/modules/common/gemini"
	"ad-canvas-server/modules/common/inflight"
	"ad-canvas-server/modules/common/logger"
	redisconn "ad-canvas-server/modules/common/redis"
	"ad-canvas-server/modules/studio"
)

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+studio.APIKeyHeader)
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "ad-canvas-server",
	})
}

// newRouter - 라우터 설정
func newRouter(studioHandler *studio.Handler, adHandler *advertisement.Handler) *mux.Router {
	r := mux.NewRouter()

	// CORS 미들웨어 적용
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	studioHandler.RegisterRoutes(r)
	adHandler.RegisterRoutes(r)

	return r
}

// newInflightGuard - Redis 가 설정되어 있으면 Redis, 아니면 in-process
func newInflightGuard(ctx context.Context, cfg *config.Config) (inflight.Guard, func()) {
	if !cfg.RedisEnabled() {
		logger.Infof("🔒 In-flight guard: in-process")
		return inflight.NewMemoryGuard(), func() {}
	}

	rdb, err := redisconn.Connect(ctx, cfg)
	if err != nil {
		logger.Warnf("⚠️  %v, falling back to in-process in-flight guard", err)
		return inflight.NewMemoryGuard(), func() {}
	}

	logger.Infof("🔒 In-flight guard: redis (%s)", cfg.GetRedisAddr())
	return inflight.NewRedisGuard(rdb), func() {
		if err := rdb.Close(); err != nil {
			logger.Warnf("⚠️  Redis close failed: %v", err)
		}
	}
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("❌ Failed to load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	guard, closeGuard := newInflightGuard(ctx, cfg)
	defer closeGuard()

	// Gemini 클라이언트 팩토리 (키는 요청마다 다를 수 있음)
	factory := gemini.NewFactory(gemini.Options{
		APIKey:        cfg.GeminiAPIKey,
		BaseURL:       cfg.GeminiBaseURL,
		StandardModel: cfg.GeminiStandardModel,
		ProModel:      cfg.GeminiProModel,
		ProImageSize:  cfg.GeminiProImageSize,
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.RetryBaseDelay,
	})
	if cfg.GeminiAPIKey == "" {
		logger.Warnf("⚠️  GEMINI_API_KEY not set - browsers must send their own key (%s)", studio.APIKeyHeader)
	}

	// 세션 매니저 + 정리 루틴
	sessions := studio.NewSessionManager()
	sessions.StartCleanupRoutine(ctx)

	adService := advertisement.NewService(sessions, factory, guard, cfg.InflightTTL)
	r := newRouter(studio.NewHandler(sessions, factory), advertisement.NewHandler(adService))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infof("🚀 Ad Canvas Server starting on port %s", cfg.Port)
	logger.Infof("📡 WebSocket endpoint: ws://localhost:%s/ws?session=<id>", cfg.Port)
	logger.Infof("🎨 Generate: POST http://localhost:%s/api/advertisement/generate", cfg.Port)
	logger.Infof("❤️  Health check: http://localhost:%s/health", cfg.Port)
	logger.Infof("📊 Metrics: http://localhost:%s/metrics", cfg.Port)
	logger.Infof("🧹 Admin cleanup: http://localhost:%s/admin/cleanup", cfg.Port)

	// 서버 시작
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed to start: %v", err)
		}
	case <-ctx.Done():
		logger.Infof("🛑 Shutting down...")
		// 진행 중인 생성은 재시도 스케줄 동안 끝날 수 있도록 InflightTTL 만큼 대기
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.InflightTTL)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("❌ Graceful shutdown failed: %v", err)
		}
	}
}
