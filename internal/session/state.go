// Package session holds the single process-wide bot session.
package session

import (
	"sync"
	"time"

	"wa-bot-go/internal/automation"
)

// QueuedMessage is an outbound message waiting for a live connection.
type QueuedMessage struct {
	PhoneNumber string    `json:"phoneNumber"`
	Text        string    `json:"message"`
	LeadID      string    `json:"leadId,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	RetryCount  int       `json:"retryCount"`
}

// Snapshot is a consistent copy of the observable fields.
type Snapshot struct {
	IsConnected       bool
	PairingCode       string
	LastActivity      time.Time
	ReconnectAttempts int
	QueueSize         int
	HasPage           bool
	RawState          string
}

// State is owned by one bot instance and injected into every layer.
type State struct {
	mu sync.Mutex

	page              automation.Page
	connected         bool
	pairingCode       string
	lastActivity      time.Time
	reconnectAttempts int
	queue             []QueuedMessage
	blob              []byte
	draining          bool
	rawState          string
}

func New() *State {
	return &State{}
}

func (s *State) Page() automation.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *State) SetPage(p automation.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = p
}

// TakePage detaches and returns the current handle.
func (s *State) TakePage() automation.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.page
	s.page = nil
	return p
}

func (s *State) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// MarkConnected flips to connected, clears the pairing code and resets attempts.
func (s *State) MarkConnected(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.pairingCode = ""
	s.reconnectAttempts = 0
	s.lastActivity = now
}

// MarkDisconnected reports whether the state was connected before the call.
func (s *State) MarkDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.connected
	s.connected = false
	s.pairingCode = ""
	return was
}

func (s *State) PairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingCode
}

// SetPairingCode is ignored while connected.
func (s *State) SetPairingCode(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return false
	}
	s.pairingCode = code
	return true
}

func (s *State) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *State) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectAttempts
}

// IncrementReconnectAttempts returns the new count.
func (s *State) IncrementReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempts++
	return s.reconnectAttempts
}

func (s *State) SetReconnectAttempts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempts = n
}

func (s *State) RawState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rawState
}

func (s *State) SetRawState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawState = state
}

// Enqueue appends to the tail of the outbound queue.
func (s *State) Enqueue(m QueuedMessage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, m)
	return len(s.queue)
}

// Dequeue pops the head of the outbound queue.
func (s *State) Dequeue() (QueuedMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return QueuedMessage{}, false
	}
	m := s.queue[0]
	s.queue[0] = QueuedMessage{}
	s.queue = s.queue[1:]
	return m, true
}

func (s *State) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Queue returns a copy of the pending messages in order.
func (s *State) Queue() []QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QueuedMessage(nil), s.queue...)
}

// TryBeginDrain claims the drain flag. Callers must EndDrain when it returns true.
func (s *State) TryBeginDrain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.draining = true
	return true
}

func (s *State) EndDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = false
}

func (s *State) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *State) Blob() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob
}

func (s *State) SetBlob(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = b
}

// Reset drops credentials and pairing progress. The outbound queue survives.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = nil
	s.connected = false
	s.pairingCode = ""
	s.reconnectAttempts = 0
	s.blob = nil
	s.rawState = ""
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		IsConnected:       s.connected,
		PairingCode:       s.pairingCode,
		LastActivity:      s.lastActivity,
		ReconnectAttempts: s.reconnectAttempts,
		QueueSize:         len(s.queue),
		HasPage:           s.page != nil,
		RawState:          s.rawState,
	}
}
