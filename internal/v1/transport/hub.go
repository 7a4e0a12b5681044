// Package transport owns the WebSocket boundary: upgrade, the per-connection
// read and write pumps, and the hub that ties connections to the room
// registry.
package transport

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quadcall/signaling/internal/v1/config"
	"github.com/quadcall/signaling/internal/v1/logging"
	"github.com/quadcall/signaling/internal/v1/metrics"
	"github.com/quadcall/signaling/internal/v1/ratelimit"
	"github.com/quadcall/signaling/internal/v1/room"
	"github.com/quadcall/signaling/internal/v1/types"
)

// Hub coordinates every live connection: it gates upgrades, authenticates
// joiners, admits them into rooms, and reclaims idle rooms.
type Hub struct {
	registry       *room.Registry
	verifier       types.TokenVerifier
	limiter        *ratelimit.ConnectionLimiter
	cfg            *config.Config
	allowedOrigins []string
}

// NewHub wires a Hub from its dependencies. limiter may be nil, which
// disables the per-IP connect gate.
func NewHub(cfg *config.Config, verifier types.TokenVerifier, limiter *ratelimit.ConnectionLimiter, allowedOrigins []string) *Hub {
	return &Hub{
		registry:       room.NewRegistry(cfg.RoomCapacity),
		verifier:       verifier,
		limiter:        limiter,
		cfg:            cfg,
		allowedOrigins: allowedOrigins,
	}
}

// Registry exposes the hub's room registry for health reporting.
func (h *Hub) Registry() *room.Registry {
	return h.registry
}

// ServeWs is the gin handler for the join endpoint. The connect-rate gate and
// the origin check answer over HTTP; every later failure is reported on the
// open socket as an error envelope followed by a close frame, so clients see
// one consistent rejection shape.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.limiter != nil && !h.limiter.AllowUpgrade(c) {
		return // response already written
	}

	conn, err := h.upgrade(c)
	if err != nil {
		// Upgrade() has written the HTTP error (403 on origin, 400 on a
		// non-WebSocket request).
		metrics.UpgradeRejections.WithLabelValues("upgrade_failed").Inc()
		return
	}

	h.handleConnection(c, conn)
}

// handleConnection runs the join sequence on a freshly upgraded socket:
// validate the query, verify the token, admit into the room, announce
// peer_joined, then start the pumps. Until the pumps start this goroutine is
// the socket's sole owner, so it may write rejections directly.
func (h *Hub) handleConnection(c *gin.Context, conn wsConnection) {
	ctx := c.Request.Context()

	params, err := parseJoinParams(c)
	if err != nil {
		logging.Warn(ctx, "Rejecting join: invalid parameters", zap.Error(err))
		metrics.UpgradeRejections.WithLabelValues("bad_request").Inc()
		rejectConn(conn, types.ErrCodeBadRequest, err.Error(), types.CloseBadRequest)
		return
	}

	claims, err := h.verifier.Verify(params.token)
	if err != nil {
		logging.Warn(ctx, "Rejecting join: token verification failed",
			zap.String("roomCode", string(params.roomCode)),
			zap.String("token", logging.RedactToken(params.token)),
			zap.Error(err))
		metrics.UpgradeRejections.WithLabelValues("auth_failed").Inc()
		rejectConn(conn, types.ErrCodeAuthFailed, "Token verification failed.", types.CloseAuthFailed)
		return
	}

	client := newClient(h, conn, params.roomCode, params.clientID, claims.Subject)

	existing, err := h.registry.Admit(params.roomCode, client)
	switch err {
	case nil:
	case room.ErrRoomFull:
		logging.Warn(ctx, "Rejecting join: room full",
			zap.String("roomCode", string(params.roomCode)),
			zap.String("clientId", string(params.clientID)))
		metrics.UpgradeRejections.WithLabelValues("room_full").Inc()
		rejectConn(conn, types.ErrCodeRoomFull, "Room is at capacity.", types.CloseRoomFull)
		return
	case room.ErrDuplicateClient:
		logging.Warn(ctx, "Rejecting join: duplicate client id",
			zap.String("roomCode", string(params.roomCode)),
			zap.String("clientId", string(params.clientID)))
		metrics.UpgradeRejections.WithLabelValues("bad_request").Inc()
		rejectConn(conn, types.ErrCodeBadRequest, "Client id already present in room.", types.CloseBadRequest)
		return
	default:
		logging.Error(ctx, "Rejecting join: admit failed", zap.Error(err))
		metrics.UpgradeRejections.WithLabelValues("internal").Inc()
		rejectConn(conn, types.ErrCodeInternal, "Internal error.", websocket.CloseInternalServerErr)
		return
	}

	metrics.IncConnection()
	logging.Info(ctx, "Client joined room",
		zap.String("roomCode", string(params.roomCode)),
		zap.String("clientId", string(params.clientID)),
		zap.String("subject", claims.Subject),
		zap.Int("peers", len(existing)))

	// peer_joined goes to the members present before the join, never to the
	// joiner. Announced before the pumps start so the joiner cannot observe
	// a relayed frame ahead of its own announcement.
	room.Announce(existing, types.NewPeerJoined(params.clientID))

	go client.writePump()
	go client.readPump()
}

// handleDisconnect removes the member from its room and announces peer_left
// to whoever remains. Called exactly once per admitted client, from the read
// pump's defer.
func (h *Hub) handleDisconnect(c *Client) {
	remaining, removed := h.registry.Remove(c.room, c.id)
	if removed {
		room.Announce(remaining, types.NewPeerLeft(c.id))
		logging.Info(context.Background(), "Client left room",
			zap.String("roomCode", string(c.room)),
			zap.String("clientId", string(c.id)),
			zap.Int("peers", len(remaining)))
	}
	c.Disconnect()
}

// RunSweeper periodically reclaims rooms idle for at least the configured
// TTL, closing every detached member with the idle close code. Blocks until
// ctx is cancelled.
func (h *Hub) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	logging.Info(ctx, "Idle sweeper started",
		zap.Duration("interval", h.cfg.SweepInterval),
		zap.Duration("ttl", h.cfg.RoomIdleTTL))

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "Idle sweeper stopped")
			return
		case now := <-ticker.C:
			h.sweep(ctx, now)
		}
	}
}

func (h *Hub) sweep(ctx context.Context, now time.Time) {
	swept := h.registry.SweepIdle(now, h.cfg.RoomIdleTTL)
	for _, r := range swept {
		logging.Info(ctx, "Swept idle room",
			zap.String("roomCode", string(r.Code)),
			zap.Int("members", len(r.Members)))
		for _, m := range r.Members {
			m.CloseWithStatus(types.CloseRoomIdle, "room_idle_expired")
		}
	}
}

// Shutdown detaches every room and closes the member connections with a
// going-away frame. Members leave one at a time, each departure announced as
// peer_left to whoever in the room is not yet closed, mirroring what peers
// would see if everyone hung up in sequence. Waits until the context deadline
// for the write pumps to flush; connections are torn down regardless.
func (h *Hub) Shutdown(ctx context.Context) error {
	detached := h.registry.DetachAll()

	var closed int
	for _, r := range detached {
		for i, m := range r.Members {
			room.Announce(r.Members[i+1:], types.NewPeerLeft(m.GetID()))
			m.CloseWithStatus(websocket.CloseGoingAway, "server shutting down")
			closed++
		}
	}
	logging.Info(ctx, "Shutting down hub", zap.Int("connections", closed))

	if closed > 0 {
		// Give the write pumps a moment to put close frames on the wire.
		select {
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}
