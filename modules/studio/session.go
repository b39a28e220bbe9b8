package studio

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ad-canvas-server/modules/common/gemini"
	"ad-canvas-server/modules/common/logger"
)

// 정리 주기 / 기준
const (
	EmptyCleanupInterval   = 5 * time.Minute
	ExpiredCleanupInterval = 30 * time.Minute
	ExpiredThreshold       = 24 * time.Hour
	InactiveThreshold      = 2 * time.Hour
)

// CredentialVerifier checks an API key against the model backend.
// ResolveKey substitutes the server default key when the browser sent none.
type CredentialVerifier interface {
	ResolveKey(apiKey string) string
	VerifyCredential(ctx context.Context, apiKey string) error
}

// 연결된 브라우저 탭
type Client struct {
	conn *websocket.Conn
	id   string
	send chan []byte
}

// 메시지 타입
type Message struct {
	Type      string    `json:"type"`
	SessionId string    `json:"sessionId,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Error     string    `json:"error,omitempty"`
	// Seq - 세션 안에서 상태 메시지 순서 (전이마다 증가)
	Seq uint64 `json:"seq,omitempty"`
}

// Session - 브라우저 세션 하나 (상태 머신 + 연결된 클라이언트)
type Session struct {
	id           string
	machine      *Machine
	clients      map[string]*Client
	mutex        sync.RWMutex
	createdAt    time.Time
	lastActivity time.Time

	// fireMu - 전이와 브로드캐스트를 같은 순서로 묶음
	fireMu sync.Mutex
	seq    uint64
	// credentialMu - 세션당 키 확인은 한 번에 하나
	credentialMu sync.Mutex

	metrics *ServerMetrics
	now     func() time.Time
}

// 서버 메트릭
type ServerMetrics struct {
	TotalSessions    int       `json:"totalSessions"`
	ActiveSessions   int       `json:"activeSessions"`
	TotalConnections int       `json:"totalConnections"`
	Generations      int       `json:"generations"`
	StartTime        time.Time `json:"startTime"`
	mutex            sync.RWMutex
}

// 세션 매니저
type SessionManager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
	metrics  *ServerMetrics
	now      func() time.Time
}

// NewSessionManager - 빈 세션 매니저
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		metrics:  &ServerMetrics{StartTime: time.Now()},
		now:      time.Now,
	}
}

// GetOrCreate - 세션 가져오기 또는 생성 (checking_credential 에서 시작)
func (sm *SessionManager) GetOrCreate(sessionId string) *Session {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	now := sm.now()
	session, exists := sm.sessions[sessionId]
	if !exists {
		session = &Session{
			id:           sessionId,
			machine:      NewMachine(),
			clients:      make(map[string]*Client),
			createdAt:    now,
			lastActivity: now,
			metrics:      sm.metrics,
			now:          sm.now,
		}
		sm.sessions[sessionId] = session

		sm.metrics.mutex.Lock()
		sm.metrics.TotalSessions++
		sm.metrics.ActiveSessions++
		total, active := sm.metrics.TotalSessions, sm.metrics.ActiveSessions
		sm.metrics.mutex.Unlock()

		logger.Infof("✅ Created new studio session: %s (Total: %d, Active: %d)", sessionId, total, active)
	}

	session.touch(now)
	return session
}

// Get - 기존 세션 조회 (없으면 nil)
func (sm *SessionManager) Get(sessionId string) *Session {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.sessions[sessionId]
}

// CheckCredential runs the credential check for a session. An empty key or a
// key rejected by the backend leaves the session unauthenticated; any other
// verification failure is logged and the key is accepted.
func (sm *SessionManager) CheckCredential(ctx context.Context, session *Session, verifier CredentialVerifier, apiKey string) (Snapshot, error) {
	session.credentialMu.Lock()
	defer session.credentialMu.Unlock()
	return sm.checkCredentialLocked(ctx, session, verifier, apiKey)
}

// EnsureCredential runs the credential check only when the session still needs
// one. Concurrent callers wait for the check in progress and then see its result.
func (sm *SessionManager) EnsureCredential(ctx context.Context, session *Session, verifier CredentialVerifier, apiKey string) (Snapshot, error) {
	session.credentialMu.Lock()
	defer session.credentialMu.Unlock()

	snapshot := session.Snapshot()
	if !snapshot.State.NeedsCredential() {
		return snapshot, nil
	}
	if apiKey == "" && snapshot.State == StateUnauthenticated {
		return snapshot, nil
	}
	return sm.checkCredentialLocked(ctx, session, verifier, apiKey)
}

func (sm *SessionManager) checkCredentialLocked(ctx context.Context, session *Session, verifier CredentialVerifier, apiKey string) (Snapshot, error) {
	if session.State() != StateCheckingCredential {
		if _, err := session.Fire(EventSelectCredential, ""); err != nil {
			return session.Snapshot(), err
		}
	}

	if apiKey == "" {
		return session.Fire(EventCredentialMissing, "")
	}

	if err := verifier.VerifyCredential(ctx, apiKey); err != nil {
		if gemini.IsCredentialError(err) || errors.Is(err, gemini.ErrMissingCredential) {
			logger.Warnf("🔑 [Studio] Credential rejected for session %s: %v", session.id, err)
			return session.Fire(EventCredentialMissing, "")
		}
		logger.Warnf("⚠️  [Studio] Credential check inconclusive for session %s, accepting key: %v", session.id, err)
	}
	return session.Fire(EventCredentialValid, "")
}

// ID - 세션 ID
func (s *Session) ID() string {
	return s.id
}

// State - 현재 상태
func (s *Session) State() State {
	return s.machine.State()
}

// Snapshot - 현재 스냅샷
func (s *Session) Snapshot() Snapshot {
	return s.machine.Snapshot()
}

// Fire - 상태 전이 후 모든 클라이언트에게 스냅샷 브로드캐스트
func (s *Session) Fire(event Event, payload string) (Snapshot, error) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	snapshot, err := s.machine.Fire(event, payload)
	if err != nil {
		return snapshot, err
	}
	s.seq++

	s.touch(s.now())
	if event == EventSucceed {
		s.metrics.mutex.Lock()
		s.metrics.Generations++
		s.metrics.mutex.Unlock()
	}

	logger.Debugf("🔁 [Studio] Session %s: %s -> %s", s.id, event, snapshot.State)
	s.broadcastToAll(Message{Type: "state", SessionId: s.id, Snapshot: &snapshot, Seq: s.seq})
	return snapshot, nil
}

func (s *Session) touch(now time.Time) {
	s.mutex.Lock()
	s.lastActivity = now
	s.mutex.Unlock()
}

// 클라이언트를 세션에 추가하고 현재 스냅샷 전송
func (s *Session) addClient(client *Client) {
	// 첫 스냅샷이 이후 전이보다 늦게 도착하지 않도록
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	s.mutex.Lock()
	s.clients[client.id] = client
	s.lastActivity = s.now()
	clientCount := len(s.clients)
	s.mutex.Unlock()

	s.metrics.mutex.Lock()
	s.metrics.TotalConnections++
	totalConnections := s.metrics.TotalConnections
	s.metrics.mutex.Unlock()

	logger.Infof("👤 Client %s joined session %s (Clients: %d, Total Connections: %d)",
		client.id, s.id, clientCount, totalConnections)

	s.sendStateLocked(client.id)
}

// sendState - 현재 스냅샷을 한 클라이언트에게 전송
func (s *Session) sendState(clientId string) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	s.sendStateLocked(clientId)
}

func (s *Session) sendStateLocked(clientId string) {
	snapshot := s.Snapshot()
	s.sendTo(clientId, Message{Type: "state", SessionId: s.id, Snapshot: &snapshot, Seq: s.seq})
}

// 클라이언트를 세션에서 제거
func (s *Session) removeClient(clientId string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if client, exists := s.clients[clientId]; exists {
		close(client.send)
		delete(s.clients, clientId)
		s.lastActivity = s.now()

		logger.Infof("👋 Client %s left session %s (Remaining: %d)", clientId, s.id, len(s.clients))
		if len(s.clients) == 0 {
			logger.Infof("🗑️  Session %s is now empty, will be cleaned up", s.id)
		}
	}
}

func (s *Session) clientCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.clients)
}

// 특정 클라이언트에게만 전송
func (s *Session) sendTo(clientId string, message Message) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		logger.Errorf("Error marshaling message: %v", err)
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if client, ok := s.clients[clientId]; ok {
		s.deliverLocked(clientId, client, messageBytes)
	}
}

// 모든 클라이언트에게 메시지 브로드캐스트
func (s *Session) broadcastToAll(message Message) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		logger.Errorf("Error marshaling message: %v", err)
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for clientId, client := range s.clients {
		s.deliverLocked(clientId, client, messageBytes)
	}
}

// 버퍼가 가득 찬 클라이언트는 끊음
func (s *Session) deliverLocked(clientId string, client *Client, messageBytes []byte) {
	select {
	case client.send <- messageBytes:
	default:
		logger.Warnf("⚠️  Client %s in session %s is not reading, dropping connection", clientId, s.id)
		close(client.send)
		delete(s.clients, clientId)
	}
}

// 모든 클라이언트 연결 종료
func (s *Session) disconnectAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for clientId, client := range s.clients {
		close(client.send)
		delete(s.clients, clientId)
		logger.Infof("🔌 Disconnecting client %s from session %s", clientId, s.id)
	}
}

// CleanupEmptySessions - 클라이언트가 없고 생성 중이 아닌 세션 정리
// HTTP 만 쓰는 브라우저를 위해 최근 EmptyCleanupInterval 안에 활동한 세션은 남김
func (sm *SessionManager) CleanupEmptySessions() int {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	now := sm.now()
	cleaned := 0
	for sessionId, session := range sm.sessions {
		session.mutex.RLock()
		isEmpty := len(session.clients) == 0
		idle := now.Sub(session.lastActivity) > EmptyCleanupInterval
		session.mutex.RUnlock()

		if !isEmpty || !idle || session.State() == StateGenerating {
			continue
		}
		delete(sm.sessions, sessionId)
		cleaned++
		logger.Infof("🧹 Cleaned up empty session: %s", sessionId)
	}

	sm.recordCleanup(cleaned, "empty")
	return cleaned
}

// CleanupExpiredSessions - 24시간 지난 세션 / 2시간 동안 비활성인 빈 세션 정리
func (sm *SessionManager) CleanupExpiredSessions() int {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	now := sm.now()
	cleaned := 0
	for sessionId, session := range sm.sessions {
		session.mutex.RLock()
		age := now.Sub(session.createdAt)
		inactive := now.Sub(session.lastActivity)
		isEmpty := len(session.clients) == 0
		session.mutex.RUnlock()

		isExpired := age > ExpiredThreshold
		isInactive := inactive > InactiveThreshold && isEmpty
		if !isExpired && !isInactive {
			continue
		}

		session.disconnectAll()
		delete(sm.sessions, sessionId)
		cleaned++

		reason := "expired"
		if isInactive {
			reason = "inactive"
		}
		logger.Infof("⏰ Cleaned up %s session: %s (Age: %v, Inactive: %v)", reason, sessionId, age, inactive)
	}

	sm.recordCleanup(cleaned, "expired/inactive")
	return cleaned
}

func (sm *SessionManager) recordCleanup(cleaned int, kind string) {
	if cleaned == 0 {
		return
	}
	sm.metrics.mutex.Lock()
	sm.metrics.ActiveSessions -= cleaned
	active := sm.metrics.ActiveSessions
	sm.metrics.mutex.Unlock()

	logger.Infof("🗑️  Cleaned up %d %s sessions (Active: %d)", cleaned, kind, active)
}

// StartCleanupRoutine - 정기적 정리 작업 시작 (ctx 취소 시 종료)
func (sm *SessionManager) StartCleanupRoutine(ctx context.Context) {
	go sm.runEvery(ctx, EmptyCleanupInterval, func() { sm.CleanupEmptySessions() })
	go sm.runEvery(ctx, ExpiredCleanupInterval, func() { sm.CleanupExpiredSessions() })

	logger.Infof("🔄 Started session cleanup routines (Empty: %v, Expired: %v)", EmptyCleanupInterval, ExpiredCleanupInterval)
}

func (sm *SessionManager) runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// SessionInfo - 세션 요약
type SessionInfo struct {
	SessionId    string    `json:"sessionId"`
	State        State     `json:"state"`
	ClientCount  int       `json:"clientCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Age          string    `json:"age"`
	Inactive     string    `json:"inactive"`
}

// MetricsReport - /metrics 응답
type MetricsReport struct {
	Server   ServerReport  `json:"server"`
	Sessions []SessionInfo `json:"sessions"`
}

type ServerReport struct {
	Uptime           string    `json:"uptime"`
	StartTime        time.Time `json:"startTime"`
	TotalSessions    int       `json:"totalSessions"`
	ActiveSessions   int       `json:"activeSessions"`
	TotalConnections int       `json:"totalConnections"`
	Generations      int       `json:"generations"`
	CurrentClients   int       `json:"currentClients"`
}

func (s *Session) info(now time.Time) SessionInfo {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return SessionInfo{
		SessionId:    s.id,
		State:        s.machine.State(),
		ClientCount:  len(s.clients),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Age:          now.Sub(s.createdAt).String(),
		Inactive:     now.Sub(s.lastActivity).String(),
	}
}

// Metrics - 서버 메트릭 + 세션 상세
func (sm *SessionManager) Metrics() MetricsReport {
	sm.metrics.mutex.RLock()
	report := MetricsReport{
		Server: ServerReport{
			StartTime:        sm.metrics.StartTime,
			TotalSessions:    sm.metrics.TotalSessions,
			ActiveSessions:   sm.metrics.ActiveSessions,
			TotalConnections: sm.metrics.TotalConnections,
			Generations:      sm.metrics.Generations,
		},
	}
	sm.metrics.mutex.RUnlock()

	now := sm.now()
	report.Server.Uptime = now.Sub(report.Server.StartTime).String()

	sm.mutex.RLock()
	report.Sessions = make([]SessionInfo, 0, len(sm.sessions))
	for _, session := range sm.sessions {
		info := session.info(now)
		report.Server.CurrentClients += info.ClientCount
		report.Sessions = append(report.Sessions, info)
	}
	sm.mutex.RUnlock()

	return report
}
