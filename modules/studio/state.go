package studio

import (
	"errors"
	"fmt"
	"sync"
)

// State - 스튜디오 세션 상태
type State string

const (
	StateCheckingCredential State = "checking_credential"
	StateUnauthenticated    State = "unauthenticated"
	StateIdle               State = "idle"
	StateGenerating         State = "generating"
	StateSucceeded          State = "succeeded"
	StateFailed             State = "failed"
)

// NeedsCredential - 생성 전에 키 확인이 필요한 상태
func (s State) NeedsCredential() bool {
	return s == StateCheckingCredential || s == StateUnauthenticated
}

// Event - 상태 전이 이벤트
type Event string

const (
	EventCredentialValid    Event = "credential_valid"
	EventCredentialMissing  Event = "credential_missing"
	EventSelectCredential   Event = "select_credential"
	EventSubmit             Event = "submit"
	EventSucceed            Event = "succeed"
	EventFail               Event = "fail"
	EventCredentialRejected Event = "credential_rejected"
	EventReset              Event = "reset"
)

// ErrInvalidTransition is returned for any (state, event) pair outside the table.
var ErrInvalidTransition = errors.New("invalid studio state transition")

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{StateCheckingCredential, EventCredentialValid}:   StateIdle,
	{StateCheckingCredential, EventCredentialMissing}: StateUnauthenticated,
	{StateUnauthenticated, EventSelectCredential}:     StateCheckingCredential,

	{StateIdle, EventSelectCredential}:      StateCheckingCredential,
	{StateSucceeded, EventSelectCredential}: StateCheckingCredential,
	{StateFailed, EventSelectCredential}:    StateCheckingCredential,

	{StateIdle, EventSubmit}:      StateGenerating,
	{StateSucceeded, EventSubmit}: StateGenerating,
	{StateFailed, EventSubmit}:    StateGenerating,

	{StateGenerating, EventSucceed}:            StateSucceeded,
	{StateGenerating, EventFail}:               StateFailed,
	{StateGenerating, EventCredentialRejected}: StateUnauthenticated,

	{StateIdle, EventReset}:      StateIdle,
	{StateSucceeded, EventReset}: StateIdle,
	{StateFailed, EventReset}:    StateIdle,
}

// Snapshot - 세션 상태의 JSON 표현
// image / loading / error 중 최대 하나만 채워짐
type Snapshot struct {
	State        State  `json:"state"`
	ImageDataURL string `json:"imageDataUrl,omitempty"`
	Error        string `json:"error,omitempty"`
	Loading      bool   `json:"loading"`
}

// Machine - 명시적 상태 머신 (mutex 로 보호)
type Machine struct {
	mu           sync.RWMutex
	state        State
	imageDataURL string
	errMessage   string
}

// NewMachine - checking_credential 상태에서 시작
func NewMachine() *Machine {
	return &Machine{state: StateCheckingCredential}
}

// Fire applies an event. payload is the image data URL for succeed and the
// user facing message for fail; it is ignored for other events.
func (m *Machine) Fire(event Event, payload string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transitions[transitionKey{m.state, event}]
	if !ok {
		return m.snapshotLocked(), fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, m.state)
	}

	// 새 상태에 맞지 않는 결과는 지움
	m.imageDataURL = ""
	m.errMessage = ""
	switch event {
	case EventSucceed:
		m.imageDataURL = payload
	case EventFail:
		m.errMessage = payload
		if m.errMessage == "" {
			m.errMessage = "Failed to generate advertisement."
		}
	}
	m.state = next
	return m.snapshotLocked(), nil
}

// State - 현재 상태
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot - 현재 상태 복사본
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		State:        m.state,
		ImageDataURL: m.imageDataURL,
		Error:        m.errMessage,
		Loading:      m.state == StateGenerating,
	}
}
