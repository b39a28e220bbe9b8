package studio

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ad-canvas-server/modules/common/gemini"
	"ad-canvas-server/modules/common/logger"
)

// APIKeyHeader - 브라우저가 선택한 API 키
const APIKeyHeader = "X-Api-Key"

// Handler - 스튜디오 HTTP / WebSocket 엔드포인트
type Handler struct {
	manager  *SessionManager
	verifier CredentialVerifier
}

func NewHandler(manager *SessionManager, verifier CredentialVerifier) *Handler {
	return &Handler{manager: manager, verifier: verifier}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.HandleWebSocket)
	r.HandleFunc("/api/studio/{sessionId}", h.HandleSnapshot).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/studio/{sessionId}/credential", h.HandleCredential).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/{sessionId}/reset", h.HandleReset).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/{sessionId}/download", h.HandleDownload).Methods("GET", "OPTIONS")
	r.HandleFunc("/session/{sessionId}", h.HandleSessionInfo).Methods("GET")
	r.HandleFunc("/metrics", h.HandleMetrics).Methods("GET")
	r.HandleFunc("/admin/cleanup", h.HandleForceCleanup).Methods("POST")
}

// SnapshotResponse - 세션 스냅샷 응답
type SnapshotResponse struct {
	SessionId string   `json:"sessionId"`
	Snapshot  Snapshot `json:"snapshot"`
	Error     string   `json:"error,omitempty"`
}

// HandleSnapshot - GET /api/studio/{sessionId}
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	session := h.manager.GetOrCreate(mux.Vars(r)["sessionId"])
	writeJSON(w, http.StatusOK, SnapshotResponse{SessionId: session.ID(), Snapshot: session.Snapshot()})
}

// HandleCredential - POST /api/studio/{sessionId}/credential
// 키 선택 / 확인 (X-Api-Key 가 없으면 서버 기본 키)
func (h *Handler) HandleCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	session := h.manager.GetOrCreate(mux.Vars(r)["sessionId"])
	apiKey := h.resolveKey(r.Header.Get(APIKeyHeader))

	snapshot, err := h.manager.CheckCredential(r.Context(), session, h.verifier, apiKey)
	if errors.Is(err, ErrInvalidTransition) {
		writeJSON(w, http.StatusConflict, SnapshotResponse{SessionId: session.ID(), Snapshot: snapshot, Error: "A generation is in progress."})
		return
	}
	if err != nil {
		logger.Errorf("❌ [Studio] Credential check failed for %s: %v", session.ID(), err)
		writeJSON(w, http.StatusInternalServerError, SnapshotResponse{SessionId: session.ID(), Snapshot: snapshot, Error: err.Error()})
		return
	}

	logger.Infof("🔑 [Studio] Credential check for %s -> %s", session.ID(), snapshot.State)
	writeJSON(w, http.StatusOK, SnapshotResponse{SessionId: session.ID(), Snapshot: snapshot})
}

// HandleReset - POST /api/studio/{sessionId}/reset ("New Design")
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	session := h.manager.Get(mux.Vars(r)["sessionId"])
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}

	snapshot, err := session.Fire(EventReset, "")
	if err != nil {
		writeJSON(w, http.StatusConflict, SnapshotResponse{SessionId: session.ID(), Snapshot: snapshot, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{SessionId: session.ID(), Snapshot: snapshot})
}

// HandleDownload - GET /api/studio/{sessionId}/download
// 생성된 이미지를 그대로 첨부파일로 전송
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	sessionId := mux.Vars(r)["sessionId"]
	session := h.manager.Get(sessionId)
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}

	snapshot := session.Snapshot()
	if snapshot.ImageDataURL == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No generated image"})
		return
	}

	data, mimeType, err := decodeDataURL(snapshot.ImageDataURL)
	if err != nil {
		logger.Errorf("❌ [Studio] Stored image for %s is not decodable: %v", sessionId, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Stored image is corrupt"})
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, DownloadFilename(sessionId, mimeType)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleSessionInfo - GET /session/{sessionId}
func (h *Handler) HandleSessionInfo(w http.ResponseWriter, r *http.Request) {
	session := h.manager.Get(mux.Vars(r)["sessionId"])
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, session.info(h.manager.now()))
}

// HandleMetrics - GET /metrics
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Metrics())
}

// HandleForceCleanup - POST /admin/cleanup (관리자용)
func (h *Handler) HandleForceCleanup(w http.ResponseWriter, r *http.Request) {
	empty := h.manager.CleanupEmptySessions()
	expired := h.manager.CleanupExpiredSessions()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "Cleanup completed",
		"empty":   empty,
		"expired": expired,
	})
}

func (h *Handler) resolveKey(headerKey string) string {
	return h.verifier.ResolveKey(strings.TrimSpace(headerKey))
}

// DownloadFilename - advertisement-<session>.<ext>
func DownloadFilename(sessionId, mimeType string) string {
	ext := "png"
	switch mimeType {
	case "image/jpeg":
		ext = "jpg"
	case "image/webp":
		ext = "webp"
	case "image/gif":
		ext = "gif"
	}
	if sessionId == "" {
		return "advertisement." + ext
	}
	return "advertisement-" + sessionId + "." + ext
}

func decodeDataURL(dataURL string) ([]byte, string, error) {
	payload, mimeType := gemini.StripDataURLPrefix(dataURL)
	if mimeType == "" {
		return nil, "", fmt.Errorf("not a data URL")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("Error encoding response: %v", err)
	}
}
