package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quadcall/signaling/internal/v1/auth"
	"github.com/quadcall/signaling/internal/v1/config"
	"github.com/quadcall/signaling/internal/v1/types"
)

// mockVerifier implements types.TokenVerifier. Tokens equal to "bad" (or any
// token when shouldFail is set) are rejected.
type mockVerifier struct {
	shouldFail bool
}

func (m *mockVerifier) Verify(token string) (*auth.Claims, error) {
	if m.shouldFail || token == "bad" {
		return nil, errors.New("token verification failed")
	}
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-" + token},
	}, nil
}

// wsFrame is a recorded or scripted WebSocket message.
type wsFrame struct {
	messageType int
	data        []byte
}

var errConnClosed = errors.New("use of closed connection")

// MockConnection implements wsConnection with scripted reads and recorded
// writes. Queued reads are always drained before Close unblocks ReadMessage.
type MockConnection struct {
	mu        sync.Mutex
	reads     chan wsFrame
	writes    []wsFrame
	writeErr  error
	readLimit int64
	closeOnce sync.Once
	done      chan struct{}
}

func newMockConn() *MockConnection {
	return &MockConnection{
		reads: make(chan wsFrame, 32),
		done:  make(chan struct{}),
	}
}

func (m *MockConnection) queueRead(messageType int, data []byte) {
	m.reads <- wsFrame{messageType: messageType, data: data}
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	select {
	case f := <-m.reads:
		return f.messageType, f.data, nil
	default:
	}
	select {
	case f := <-m.reads:
		return f.messageType, f.data, nil
	case <-m.done:
		return 0, nil, errConnClosed
	}
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.writes = append(m.writes, wsFrame{messageType: messageType, data: cp})
	return nil
}

func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error { return nil }

func (m *MockConnection) written() []wsFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wsFrame, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *MockConnection) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// recordingClient implements types.ClientInterface for registry seeding.
type recordingClient struct {
	id types.ClientIdType

	mu           sync.Mutex
	frames       [][]byte
	control      [][]byte
	disconnected bool
	closeCode    int
}

func newRecordingClient(id string) *recordingClient {
	return &recordingClient{id: types.ClientIdType(id)}
}

func (r *recordingClient) GetID() types.ClientIdType { return r.id }
func (r *recordingClient) GetSubject() string        { return "sub-" + string(r.id) }

func (r *recordingClient) Enqueue(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return true
}

func (r *recordingClient) EnqueueControl(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.control = append(r.control, frame)
}

func (r *recordingClient) CloseWithStatus(code int, _ string) {
	r.mu.Lock()
	r.closeCode = code
	r.disconnected = true
	r.mu.Unlock()
}

func (r *recordingClient) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
}

func (r *recordingClient) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *recordingClient) Control() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.control))
	copy(out, r.control)
	return out
}

func (r *recordingClient) Disconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

func (r *recordingClient) CloseCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCode
}

// wireEnvelope decodes a hub-originated frame with the payload left raw.
type wireEnvelope struct {
	Type     types.EventType `json:"type"`
	SenderID string          `json:"senderId"`
	TargetID string          `json:"targetId"`
	Payload  json.RawMessage `json:"payload"`
}

func decodeEnvelope(data []byte) (wireEnvelope, error) {
	var env wireEnvelope
	err := json.Unmarshal(data, &env)
	return env, err
}

func testConfig() *config.Config {
	return &config.Config{
		Host:            "127.0.0.1",
		Port:            "8080",
		RoomCapacity:    4,
		RateLimitMsgs:   10,
		RateLimitWindow: time.Second,
		RoomIdleTTL:     2 * time.Hour,
		SweepInterval:   time.Minute,
		MaxFrameBytes:   64 * 1024,
		SendQueueSize:   8,
	}
}

func newTestHub(cfg *config.Config, verifier types.TokenVerifier) *Hub {
	if cfg == nil {
		cfg = testConfig()
	}
	if verifier == nil {
		verifier = &mockVerifier{}
	}
	return NewHub(cfg, verifier, nil, []string{"http://localhost:3000"})
}
