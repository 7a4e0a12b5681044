// Package room owns the in-memory room registry: membership, activity
// timestamps, and idle reclamation. All state evaporates on shutdown.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quadcall/signaling/internal/v1/logging"
	"github.com/quadcall/signaling/internal/v1/metrics"
	"github.com/quadcall/signaling/internal/v1/types"
)

var (
	ErrRoomFull        = errors.New("room is full")
	ErrDuplicateClient = errors.New("client id already present in room")
)

// DefaultCapacity is the member cap applied when the registry is built with
// a non-positive capacity.
const DefaultCapacity = 4

// Room groups live members under an opaque code. Members are kept in
// insertion order so fan-out is deterministic.
type Room struct {
	code         types.RoomCodeType
	members      []types.ClientInterface
	lastActivity time.Time
}

// DetachedRoom is a room taken out of the registry by SweepIdle or DetachAll,
// handed to the caller so member connections can be closed outside the
// registry lock.
type DetachedRoom struct {
	Code    types.RoomCodeType
	Members []types.ClientInterface
}

// Registry is the sole owner of room membership and activity timestamps.
// A single lock covers the whole table; every critical section is short and
// fan-out always happens over snapshots outside the lock.
type Registry struct {
	mu       sync.Mutex
	rooms    map[types.RoomCodeType]*Room
	capacity int
	clock    func() time.Time
}

// NewRegistry creates an empty registry with the given per-room capacity.
func NewRegistry(capacity int) *Registry {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Registry{
		rooms:    make(map[types.RoomCodeType]*Room),
		capacity: capacity,
		clock:    time.Now,
	}
}

// Admit atomically creates the room if absent and appends the client as a
// member. It returns a snapshot of the members present before the join, for
// the peer_joined announcement. Fails with ErrRoomFull at capacity and
// ErrDuplicateClient on an id collision.
func (reg *Registry) Admit(code types.RoomCodeType, client types.ClientInterface) ([]types.ClientInterface, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		r = &Room{code: code}
		reg.rooms[code] = r
		metrics.ActiveRooms.Inc()
		logging.Info(context.Background(), "Room created", zap.String("roomCode", string(code)))
	}

	if len(r.members) >= reg.capacity {
		return nil, ErrRoomFull
	}
	for _, m := range r.members {
		if m.GetID() == client.GetID() {
			return nil, ErrDuplicateClient
		}
	}

	existing := make([]types.ClientInterface, len(r.members))
	copy(existing, r.members)

	r.members = append(r.members, client)
	r.lastActivity = reg.clock()
	metrics.RoomMembers.WithLabelValues(string(code)).Set(float64(len(r.members)))

	return existing, nil
}

// Remove deletes the member from the room, idempotently. It returns the
// remaining members (for the peer_left announcement) and whether this call
// actually removed anything. A room emptied by the removal is deleted
// immediately; re-creating the same code later starts fresh.
func (reg *Registry) Remove(code types.RoomCodeType, id types.ClientIdType) ([]types.ClientInterface, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		return nil, false
	}

	removed := false
	for i, m := range r.members {
		if m.GetID() == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return nil, false
	}

	r.lastActivity = reg.clock()

	if len(r.members) == 0 {
		delete(reg.rooms, code)
		metrics.ActiveRooms.Dec()
		metrics.RoomMembers.DeleteLabelValues(string(code))
		logging.Info(context.Background(), "Room deleted", zap.String("roomCode", string(code)))
		return nil, true
	}

	metrics.RoomMembers.WithLabelValues(string(code)).Set(float64(len(r.members)))

	remaining := make([]types.ClientInterface, len(r.members))
	copy(remaining, r.members)
	return remaining, true
}

// Snapshot returns a point-in-time copy of the room's member list.
func (reg *Registry) Snapshot(code types.RoomCodeType) []types.ClientInterface {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		return nil
	}
	members := make([]types.ClientInterface, len(r.members))
	copy(members, r.members)
	return members
}

// Peers returns a snapshot of the room's members excluding the given id.
func (reg *Registry) Peers(code types.RoomCodeType, exclude types.ClientIdType) []types.ClientInterface {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[code]
	if !ok {
		return nil
	}
	peers := make([]types.ClientInterface, 0, len(r.members))
	for _, m := range r.members {
		if m.GetID() != exclude {
			peers = append(peers, m)
		}
	}
	return peers
}

// Touch updates the room's last activity without a membership change.
// Called on every relayed frame.
func (reg *Registry) Touch(code types.RoomCodeType) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[code]; ok {
		r.lastActivity = reg.clock()
	}
}

// SweepIdle detaches every room whose last activity is at least ttl old
// (inclusive boundary) and returns them. Closing the member connections is
// the caller's job, outside the registry lock.
func (reg *Registry) SweepIdle(now time.Time, ttl time.Duration) []DetachedRoom {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var swept []DetachedRoom
	for code, r := range reg.rooms {
		if now.Sub(r.lastActivity) >= ttl {
			swept = append(swept, DetachedRoom{Code: code, Members: r.members})
			delete(reg.rooms, code)
			metrics.ActiveRooms.Dec()
			metrics.RoomMembers.DeleteLabelValues(string(code))
			metrics.RoomsSwept.Inc()
		}
	}
	return swept
}

// DetachAll empties the registry and returns every room with its members in
// insertion order, used during graceful shutdown. Emptying the table first
// keeps the read pumps' disconnect path from announcing a second peer_left.
func (reg *Registry) DetachAll() []DetachedRoom {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var detached []DetachedRoom
	for code, r := range reg.rooms {
		detached = append(detached, DetachedRoom{Code: code, Members: r.members})
		delete(reg.rooms, code)
		metrics.ActiveRooms.Dec()
		metrics.RoomMembers.DeleteLabelValues(string(code))
	}
	return detached
}

// Stats returns the current room and member totals.
func (reg *Registry) Stats() (rooms, members int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, r := range reg.rooms {
		members += len(r.members)
	}
	return len(reg.rooms), members
}

// RoomCount returns the number of active rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// MemberCount returns the number of members in the given room.
func (reg *Registry) MemberCount(code types.RoomCodeType) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[code]; ok {
		return len(r.members)
	}
	return 0
}
