package studio

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeVerifier struct {
	defaultKey string
	err        error
	keys       []string
}

func (f *fakeVerifier) ResolveKey(apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	return f.defaultKey
}

func (f *fakeVerifier) VerifyCredential(ctx context.Context, apiKey string) error {
	f.keys = append(f.keys, apiKey)
	return f.err
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestManager() (*SessionManager, *testClock) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sm := NewSessionManager()
	sm.now = clock.Now
	return sm, clock
}

func newFakeClient(id string, buffer int) *Client {
	return &Client{id: id, send: make(chan []byte, buffer)}
}

func readMessage(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case raw, ok := <-client.send:
		require.True(t, ok, "client channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	default:
		t.Fatal("no message queued")
		return Message{}
	}
}

func TestSessionManager_GetOrCreate(t *testing.T) {
	sm, _ := newTestManager()

	a := sm.GetOrCreate("s1")
	b := sm.GetOrCreate("s1")
	assert.Same(t, a, b)
	assert.Equal(t, StateCheckingCredential, a.State())
	assert.Nil(t, sm.Get("unknown"))

	report := sm.Metrics()
	assert.Equal(t, 1, report.Server.TotalSessions)
	assert.Equal(t, 1, report.Server.ActiveSessions)
	require.Len(t, report.Sessions, 1)
	assert.Equal(t, "s1", report.Sessions[0].SessionId)
}

func TestCheckCredential(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		verifyErr error
		want      State
	}{
		{"missing key", "", nil, StateUnauthenticated},
		{"valid key", "key", nil, StateIdle},
		{"rejected key", "key", genai.APIError{Code: 401, Status: "UNAUTHENTICATED", Message: "API key not valid"}, StateUnauthenticated},
		{"inconclusive check", "key", errors.New("connection reset"), StateIdle},
		{"rate limited check", "key", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, _ := newTestManager()
			session := sm.GetOrCreate("s1")
			verifier := &fakeVerifier{err: tt.verifyErr}

			snapshot, err := sm.CheckCredential(context.Background(), session, verifier, tt.apiKey)
			require.NoError(t, err)
			assert.Equal(t, tt.want, snapshot.State)
			if tt.apiKey == "" {
				assert.Empty(t, verifier.keys, "no backend call without a key")
			}
		})
	}
}

func TestCheckCredential_ReselectAfterSuccess(t *testing.T) {
	sm, _ := newTestManager()
	session := sm.GetOrCreate("s1")
	verifier := &fakeVerifier{}

	_, err := sm.CheckCredential(context.Background(), session, verifier, "key")
	require.NoError(t, err)
	_, err = session.Fire(EventSubmit, "")
	require.NoError(t, err)

	_, err = sm.CheckCredential(context.Background(), session, verifier, "other")
	assert.ErrorIs(t, err, ErrInvalidTransition, "no key switch while generating")

	_, err = session.Fire(EventSucceed, "data:image/png;base64,AAAA")
	require.NoError(t, err)

	snapshot, err := sm.CheckCredential(context.Background(), session, verifier, "other")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snapshot.State)
	assert.Equal(t, []string{"key", "other"}, verifier.keys)
}

func TestEnsureCredential(t *testing.T) {
	sm, _ := newTestManager()
	session := sm.GetOrCreate("s1")
	verifier := &fakeVerifier{}

	snapshot, err := sm.EnsureCredential(context.Background(), session, verifier, "")
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, snapshot.State)

	snapshot, err = sm.EnsureCredential(context.Background(), session, verifier, "")
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, snapshot.State)

	snapshot, err = sm.EnsureCredential(context.Background(), session, verifier, "key")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snapshot.State)

	snapshot, err = sm.EnsureCredential(context.Background(), session, verifier, "other")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snapshot.State)
	assert.Equal(t, []string{"key"}, verifier.keys, "a ready session is not checked again")
}

func TestSession_BroadcastsInTransitionOrder(t *testing.T) {
	sm, _ := newTestManager()
	session := sm.GetOrCreate("s1")
	_, err := session.Fire(EventCredentialValid, "")
	require.NoError(t, err)

	const workers, perWorker = 8, 10
	client := newFakeClient("c1", workers*perWorker+1)
	session.addClient(client)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := session.Fire(EventReset, "")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	first := readMessage(t, client)
	assert.Equal(t, uint64(1), first.Seq)
	last := first.Seq
	for i := 0; i < workers*perWorker; i++ {
		msg := readMessage(t, client)
		assert.Equal(t, last+1, msg.Seq)
		last = msg.Seq
	}
}

func TestSession_FireBroadcastsSnapshot(t *testing.T) {
	sm, _ := newTestManager()
	session := sm.GetOrCreate("s1")

	first := newFakeClient("c1", 8)
	second := newFakeClient("c2", 8)
	session.addClient(first)
	session.addClient(second)

	msg := readMessage(t, first)
	assert.Equal(t, "state", msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, StateCheckingCredential, msg.Snapshot.State)
	readMessage(t, second)

	_, err := session.Fire(EventCredentialValid, "")
	require.NoError(t, err)

	for _, client := range []*Client{first, second} {
		msg := readMessage(t, client)
		assert.Equal(t, "s1", msg.SessionId)
		assert.Equal(t, StateIdle, msg.Snapshot.State)
	}

	_, err = session.Fire(EventSucceed, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, first.send, "rejected events are not broadcast")
}

func TestSession_DropsClientThatDoesNotRead(t *testing.T) {
	sm, _ := newTestManager()
	session := sm.GetOrCreate("s1")

	stuck := newFakeClient("stuck", 0)
	session.addClient(stuck)

	assert.Equal(t, 0, session.clientCount())
	_, ok := <-stuck.send
	assert.False(t, ok, "send channel is closed")

	// removing an already dropped client is a no-op
	session.removeClient("stuck")
}

func TestCleanupEmptySessions(t *testing.T) {
	sm, clock := newTestManager()
	sm.GetOrCreate("recent")
	generating := sm.GetOrCreate("generating")
	generating.machine.state = StateGenerating
	connected := sm.GetOrCreate("connected")
	connected.addClient(newFakeClient("c1", 8))

	assert.Equal(t, 0, sm.CleanupEmptySessions(), "sessions active within the interval stay")

	clock.now = clock.now.Add(EmptyCleanupInterval + time.Minute)
	assert.Equal(t, 1, sm.CleanupEmptySessions())

	assert.Nil(t, sm.Get("recent"))
	assert.NotNil(t, sm.Get("generating"))
	assert.NotNil(t, sm.Get("connected"))
	assert.Equal(t, 2, sm.Metrics().Server.ActiveSessions)
}

func TestCleanupExpiredSessions(t *testing.T) {
	sm, clock := newTestManager()
	old := sm.GetOrCreate("old")
	client := newFakeClient("c1", 8)
	old.addClient(client)
	readMessage(t, client)

	clock.now = clock.now.Add(InactiveThreshold + time.Minute)
	sm.GetOrCreate("fresh")
	idleEmpty := sm.GetOrCreate("idle-empty")
	idleEmpty.touch(clock.now.Add(-InactiveThreshold - time.Minute))

	assert.Equal(t, 1, sm.CleanupExpiredSessions(), "only the inactive empty session goes")
	assert.Nil(t, sm.Get("idle-empty"))
	assert.NotNil(t, sm.Get("old"), "connected sessions are not inactive")

	clock.now = clock.now.Add(ExpiredThreshold)
	assert.Equal(t, 2, sm.CleanupExpiredSessions())
	assert.Nil(t, sm.Get("old"))

	_, ok := <-client.send
	assert.False(t, ok, "clients of expired sessions are disconnected")
	assert.Equal(t, 0, sm.Metrics().Server.ActiveSessions)
}
