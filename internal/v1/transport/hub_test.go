package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadcall/signaling/internal/v1/types"
)

func joinContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestServeWs_NonWebSocketRequest(t *testing.T) {
	hub := newTestHub(nil, nil)

	c, w := joinContext("/ws?room=abc&clientId=A&token=tok")
	hub.ServeWs(c)

	// No upgrade headers: gorilla answers with a plain HTTP error.
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeWs_InvalidOrigin(t *testing.T) {
	hub := newTestHub(nil, nil)

	c, w := joinContext("/ws?room=abc&clientId=A&token=tok")
	c.Request.Header.Set("Origin", "http://evil.example")
	hub.ServeWs(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

// lastClose returns the final close frame written to the connection, if any.
func lastClose(t *testing.T, conn *MockConnection) wsFrame {
	t.Helper()
	frames := conn.written()
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.Equal(t, websocket.CloseMessage, last.messageType)
	return last
}

func TestHandleConnection_BadParams(t *testing.T) {
	hub := newTestHub(nil, nil)
	conn := newMockConn()

	c, _ := joinContext("/ws?room=&clientId=A&token=tok")
	hub.handleConnection(c, conn)

	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, hub.registry.RoomCount())

	frames := conn.written()
	require.Len(t, frames, 2)
	env, err := decodeEnvelope(frames[0].data)
	require.NoError(t, err)
	assert.Equal(t, types.EventError, env.Type)

	closeFrame := lastClose(t, conn)
	assert.Equal(t, websocket.FormatCloseMessage(types.CloseBadRequest, "bad_request"), closeFrame.data)
}

func TestHandleConnection_AuthFailure(t *testing.T) {
	hub := newTestHub(nil, &mockVerifier{shouldFail: true})
	conn := newMockConn()

	c, _ := joinContext("/ws?room=abc&clientId=A&token=tok")
	hub.handleConnection(c, conn)

	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, hub.registry.RoomCount())

	closeFrame := lastClose(t, conn)
	assert.Equal(t, websocket.FormatCloseMessage(types.CloseAuthFailed, "auth_failed"), closeFrame.data)
}

func TestHandleConnection_RoomFull(t *testing.T) {
	cfg := testConfig()
	cfg.RoomCapacity = 1
	hub := newTestHub(cfg, nil)
	_, err := hub.registry.Admit("ABC", newRecordingClient("B"))
	require.NoError(t, err)

	conn := newMockConn()
	c, _ := joinContext("/ws?room=abc&clientId=A&token=tok")
	hub.handleConnection(c, conn)

	assert.True(t, conn.isClosed())
	assert.Equal(t, 1, hub.registry.MemberCount("ABC"))

	closeFrame := lastClose(t, conn)
	assert.Equal(t, websocket.FormatCloseMessage(types.CloseRoomFull, "room_full"), closeFrame.data)
}

func TestHandleConnection_DuplicateClientID(t *testing.T) {
	hub := newTestHub(nil, nil)
	_, err := hub.registry.Admit("ABC", newRecordingClient("A"))
	require.NoError(t, err)

	conn := newMockConn()
	c, _ := joinContext("/ws?room=abc&clientId=A&token=tok")
	hub.handleConnection(c, conn)

	assert.True(t, conn.isClosed())
	assert.Equal(t, 1, hub.registry.MemberCount("ABC"))

	closeFrame := lastClose(t, conn)
	assert.Equal(t, websocket.FormatCloseMessage(types.CloseBadRequest, "bad_request"), closeFrame.data)
}

func TestHandleConnection_AnnouncesPeerJoined(t *testing.T) {
	hub := newTestHub(nil, nil)
	peer := newRecordingClient("B")
	_, err := hub.registry.Admit("ABC", peer)
	require.NoError(t, err)

	conn := newMockConn()
	c, _ := joinContext("/ws?room=abc&clientId=A&token=tok")
	hub.handleConnection(c, conn)

	assert.Equal(t, 2, hub.registry.MemberCount("ABC"))

	require.Len(t, peer.Frames(), 1)
	env, err := decodeEnvelope(peer.Frames()[0])
	require.NoError(t, err)
	assert.Equal(t, types.EventPeerJoined, env.Type)
	assert.Equal(t, types.ServerSenderID, env.SenderID)

	// Tear the started pumps down.
	for _, m := range hub.registry.Snapshot("ABC") {
		m.Disconnect()
	}
	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
}

func TestHandleConnection_RoomCodeNormalized(t *testing.T) {
	hub := newTestHub(nil, nil)

	conn := newMockConn()
	c, _ := joinContext("/ws?room=%20abc%20&clientId=A&token=tok")
	hub.handleConnection(c, conn)

	// " abc " joins room "ABC".
	assert.Equal(t, 1, hub.registry.MemberCount("ABC"))

	for _, m := range hub.registry.Snapshot("ABC") {
		m.Disconnect()
	}
	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
}

func TestSweep_ClosesIdleMembers(t *testing.T) {
	hub := newTestHub(nil, nil)
	member := newRecordingClient("A")
	_, err := hub.registry.Admit("OLD", member)
	require.NoError(t, err)

	hub.sweep(context.Background(), time.Now().Add(3*time.Hour))

	assert.Equal(t, 0, hub.registry.RoomCount())
	assert.True(t, member.Disconnected())
	assert.Equal(t, types.CloseRoomIdle, member.CloseCode())
}

func TestSweep_FreshRoomUntouched(t *testing.T) {
	hub := newTestHub(nil, nil)
	member := newRecordingClient("A")
	_, err := hub.registry.Admit("NEW", member)
	require.NoError(t, err)

	hub.sweep(context.Background(), time.Now())

	assert.Equal(t, 1, hub.registry.RoomCount())
	assert.False(t, member.Disconnected())
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	hub := newTestHub(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.RunSweeper(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestShutdown_ClosesAllMembers(t *testing.T) {
	hub := newTestHub(nil, nil)
	a := newRecordingClient("A")
	b := newRecordingClient("B")
	_, _ = hub.registry.Admit("R1", a)
	_, _ = hub.registry.Admit("R2", b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))

	assert.Equal(t, 0, hub.registry.RoomCount())
	assert.True(t, a.Disconnected())
	assert.True(t, b.Disconnected())
	assert.Equal(t, websocket.CloseGoingAway, a.CloseCode())
}

func TestShutdown_AnnouncesPeerLeftToRemainingMembers(t *testing.T) {
	hub := newTestHub(nil, nil)
	a := newRecordingClient("A")
	b := newRecordingClient("B")
	_, _ = hub.registry.Admit("R1", a)
	_, _ = hub.registry.Admit("R1", b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))

	// Members close in insertion order: B, still open when A goes, hears
	// about the departure before its own close frame.
	require.Len(t, b.Frames(), 1)
	env, err := decodeEnvelope(b.Frames()[0])
	require.NoError(t, err)
	assert.Equal(t, types.EventPeerLeft, env.Type)

	assert.Empty(t, a.Frames(), "nobody was left to announce to A")
	assert.Equal(t, websocket.CloseGoingAway, b.CloseCode())
}
