package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/quadcall/signaling/internal/v1/logging"
	"github.com/quadcall/signaling/internal/v1/metrics"
	"github.com/quadcall/signaling/internal/v1/types"
)

// Broadcast relays a frame from sender to every other member of the room.
// The frame is forwarded verbatim: any targetId the client encoded inside it
// is advisory, never enforced (payloads are encrypted, so the hub could not
// identify an addressee anyway).
//
// Delivery is enqueue-and-return over a member snapshot, so a slow peer never
// blocks the sender's read loop. A member whose queue overflows is a slow
// consumer: it gets a best-effort error envelope and is disconnected, which
// keeps ordering intact for everyone still attached.
func (reg *Registry) Broadcast(ctx context.Context, code types.RoomCodeType, sender types.ClientIdType, frame []byte) {
	reg.Touch(code)

	peers := reg.Peers(code, sender)
	if len(peers) == 0 {
		return
	}

	for _, peer := range peers {
		if peer.Enqueue(frame) {
			continue
		}
		logging.Warn(ctx, "Dropping slow consumer",
			zap.String("roomCode", string(code)),
			zap.String("clientId", string(peer.GetID())))
		dropSlowConsumer(peer)
	}

	metrics.FramesRelayed.Inc()
}

// Announce delivers a peer event to each listed member through the same
// ordered queue as relay traffic, so a peer_left can never overtake a relay
// frame accepted before it. A member whose queue overflows gets the same
// slow-consumer verdict as on the relay path.
func Announce(members []types.ClientInterface, env types.Envelope) {
	frame := env.MustEncode()
	for _, m := range members {
		if m.Enqueue(frame) {
			continue
		}
		logging.Warn(context.Background(), "Dropping slow consumer on announce",
			zap.String("clientId", string(m.GetID())))
		dropSlowConsumer(m)
	}
}

// dropSlowConsumer delivers a best-effort error envelope and tears the member
// down. Error envelopes ride the control queue, which outranks the saturated
// relay queue.
func dropSlowConsumer(peer types.ClientInterface) {
	metrics.SlowConsumersDropped.Inc()
	peer.EnqueueControl(types.NewError(types.ErrCodeSlowConsumer, "Outbound queue overflowed; closing connection.", string(peer.GetID())).MustEncode())
	peer.Disconnect()
}
