package room

import (
	"sync"

	"github.com/quadcall/signaling/internal/v1/types"
)

// MockClient implements types.ClientInterface and records everything
// enqueued to it.
type MockClient struct {
	id      types.ClientIdType
	subject string

	mu           sync.Mutex
	frames       [][]byte
	control      [][]byte
	full         bool // simulate a saturated relay queue
	disconnected bool
	closeCode    int
}

func NewMockClient(id string) *MockClient {
	return &MockClient{id: types.ClientIdType(id), subject: "sub-" + id}
}

func (m *MockClient) GetID() types.ClientIdType { return m.id }
func (m *MockClient) GetSubject() string        { return m.subject }

func (m *MockClient) Enqueue(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.frames = append(m.frames, frame)
	return true
}

func (m *MockClient) EnqueueControl(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.control = append(m.control, frame)
}

func (m *MockClient) CloseWithStatus(code int, reason string) {
	m.mu.Lock()
	m.closeCode = code
	m.mu.Unlock()
	m.Disconnect()
}

func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

func (m *MockClient) SetFull(full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.full = full
}

func (m *MockClient) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

func (m *MockClient) Control() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.control))
	copy(out, m.control)
	return out
}

func (m *MockClient) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

func (m *MockClient) CloseCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCode
}
