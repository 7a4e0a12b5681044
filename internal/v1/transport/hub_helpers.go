package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quadcall/signaling/internal/v1/logging"
	"github.com/quadcall/signaling/internal/v1/types"
)

// joinParams is the validated upgrade query.
type joinParams struct {
	roomCode types.RoomCodeType
	clientID types.ClientIdType
	token    string
}

// parseJoinParams validates the join query: room and clientId length and
// character bounds, plus a non-empty bearer token from the query or the
// Sec-WebSocket-Protocol header.
func parseJoinParams(c *gin.Context) (*joinParams, error) {
	roomCode, err := types.ParseRoomCode(c.Query("room"))
	if err != nil {
		return nil, fmt.Errorf("invalid room code: %w", err)
	}

	clientID, err := types.ParseClientID(c.Query("clientId"))
	if err != nil {
		return nil, fmt.Errorf("invalid client id: %w", err)
	}

	token := extractToken(c)
	if token == "" {
		return nil, fmt.Errorf("token not provided")
	}

	return &joinParams{roomCode: roomCode, clientID: clientID, token: token}, nil
}

// extractToken pulls the bearer token from the token query param, falling
// back to the Sec-WebSocket-Protocol header (browser WebSocket clients cannot
// set Authorization, so they smuggle the token as a subprotocol alongside the
// "access_token" marker).
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}

	headerVal := c.GetHeader("Sec-WebSocket-Protocol")
	for _, p := range strings.Split(headerVal, ",") {
		p = strings.TrimSpace(p)
		if p != "" && p != "access_token" {
			return p
		}
	}
	return ""
}

// validateOrigin checks the request origin against the allowed list.
// Requests without an Origin header are allowed: non-browser clients do not
// send one, and the bearer token is the actual gate.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(r.Context(), "Origin not in allowed list",
		zap.String("origin", origin),
		zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// upgrade performs the WebSocket handshake. The subprotocol echo keeps
// browser clients happy when they passed the token via Sec-WebSocket-Protocol.
func (h *Hub) upgrade(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	responseHeader := http.Header{}
	if strings.Contains(c.GetHeader("Sec-WebSocket-Protocol"), "access_token") {
		responseHeader.Set("Sec-WebSocket-Protocol", "access_token")
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		logging.Warn(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

// rejectConn reports a join failure on an open socket: one error envelope,
// one close frame, then teardown. The caller owns the socket exclusively at
// this point, so direct writes are safe.
func rejectConn(conn wsConnection, code types.ErrorCode, message string, closeCode int) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, types.NewError(code, message, "").MustEncode())
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, string(code)))
	_ = conn.Close()
}
