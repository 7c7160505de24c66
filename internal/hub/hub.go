package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/EdenLuski/back/internal/coordinator"
	"github.com/EdenLuski/back/internal/websocket"
	"github.com/EdenLuski/back/pkg/types"
)

// Hub is the broadcast gateway between raw connections and the coordinator.
// It decodes inbound frames, hands them to the coordinator, and carries out
// the returned delivery intents against the connection registry.
//
// Frames are dispatched on the calling connection's goroutine, so events
// from one participant stay ordered while different participants proceed
// concurrently. Events touching the same room additionally serialize on a
// per-room lock held from the coordinator's decision through intent
// application, so the registry's delivery groups always mirror the
// membership the coordinator just committed.
type Hub struct {
	registry *websocket.Registry
	coord    *coordinator.Coordinator
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool

	lockMu    sync.Mutex
	roomLocks map[string]*sync.Mutex
}

// New creates a hub over the given registry and coordinator.
func New(registry *websocket.Registry, coord *coordinator.Coordinator, logger *zap.Logger) *Hub {
	return &Hub{
		registry:  registry,
		coord:     coord,
		logger:    logger,
		roomLocks: make(map[string]*sync.Mutex),
	}
}

// Start marks the hub as accepting events.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.logger.Info("hub started")
	return nil
}

// Stop makes the hub drop any further events. Connections already
// dispatching finish their current event.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	h.logger.Info("hub stopped")
	return nil
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// HandleFrame processes one raw inbound frame from the given sender. A
// frame that fails — malformed, unknown room, storage trouble — is answered
// with an error envelope to the sender only and never disturbs other rooms
// or participants.
func (h *Hub) HandleFrame(ctx context.Context, senderID string, frame []byte) {
	if !h.isRunning() {
		h.logger.Warn("frame dropped, hub not running", zap.String("sender", senderID))
		return
	}

	ev, err := types.DecodeInbound(frame)
	if err != nil {
		h.logger.Warn("rejected inbound frame",
			zap.String("sender", senderID),
			zap.Error(err))
		h.notifySender(senderID, err)
		return
	}

	unlock := h.lockRooms(h.roomsTouched(senderID, ev))
	defer unlock()

	intents, err := h.coord.HandleEvent(ctx, senderID, ev)
	if err != nil {
		h.logger.Warn("event failed",
			zap.String("sender", senderID),
			zap.Error(err))
		h.notifySender(senderID, err)
	}
	h.apply(intents)
}

// HandleClose runs disconnect cleanup for a dropped connection.
func (h *Hub) HandleClose(ctx context.Context, senderID string) {
	if !h.isRunning() {
		return
	}

	unlock := h.lockRooms(h.coord.RoomsOf(senderID))
	defer unlock()

	intents, err := h.coord.Disconnect(ctx, senderID)
	if err != nil {
		// Sender is gone; nothing to notify. Cleanup of the remaining
		// rooms already happened independently.
		h.logger.Warn("disconnect cleanup incomplete",
			zap.String("sender", senderID),
			zap.Error(err))
	}
	h.apply(intents)
}

// roomsTouched names the rooms an event can mutate, for locking. A
// disconnect touches every room the sender belongs to; RoomsOf is sorted
// and the sender's own connection goroutine is the only source of their
// joins, so the snapshot can only shrink before the locks are taken.
func (h *Hub) roomsTouched(senderID string, ev types.Inbound) []string {
	switch ev := ev.(type) {
	case types.JoinEvent:
		return []string{string(ev.CodeBlockID)}
	case types.CodeChangeEvent:
		return []string{string(ev.CodeBlockID)}
	case types.SolutionChangeEvent:
		return []string{string(ev.CodeBlockID)}
	case types.LeaveEvent:
		return []string{string(ev.CodeBlockID)}
	default:
		return h.coord.RoomsOf(senderID)
	}
}

// lockRooms serializes decide-and-deliver for the given rooms and returns
// the matching unlock. Holding the lock across both steps keeps a join's
// group attach from landing after a later reset already emptied the group.
// ids must be distinct and sorted when there is more than one.
func (h *Hub) lockRooms(ids []string) func() {
	locks := make([]*sync.Mutex, 0, len(ids))
	h.lockMu.Lock()
	for _, id := range ids {
		lock, ok := h.roomLocks[id]
		if !ok {
			lock = &sync.Mutex{}
			h.roomLocks[id] = lock
		}
		locks = append(locks, lock)
	}
	h.lockMu.Unlock()

	for _, lock := range locks {
		lock.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func (h *Hub) apply(intents []coordinator.Intent) {
	for _, intent := range intents {
		switch it := intent.(type) {
		case coordinator.AttachRoom:
			h.registry.Attach(it.RoomID, it.ParticipantID)

		case coordinator.DetachRoom:
			h.registry.Detach(it.RoomID, it.ParticipantID)

		case coordinator.DetachAll:
			h.registry.DetachAll(it.RoomID)

		case coordinator.Unicast:
			conn, ok := h.registry.Get(it.ParticipantID)
			if !ok {
				continue // participant vanished between decision and delivery
			}
			if err := conn.WriteJSON(it.Event); err != nil {
				h.logger.Warn("unicast failed",
					zap.String("participant", it.ParticipantID),
					zap.String("event", it.Event.Event),
					zap.Error(err))
			}

		case coordinator.Multicast:
			for _, conn := range h.registry.GroupConnections(it.RoomID) {
				if err := conn.WriteJSON(it.Event); err != nil {
					h.logger.Warn("multicast failed",
						zap.String("room", it.RoomID),
						zap.String("participant", conn.ID()),
						zap.String("event", it.Event.Event),
						zap.Error(err))
				}
			}
		}
	}
}

func (h *Hub) notifySender(senderID string, cause error) {
	conn, ok := h.registry.Get(senderID)
	if !ok {
		return
	}
	if err := conn.WriteJSON(types.NewErrorEvent(cause.Error())); err != nil {
		h.logger.Warn("failed to report error to sender",
			zap.String("sender", senderID),
			zap.Error(err))
	}
}
