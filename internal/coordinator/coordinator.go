package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/EdenLuski/back/pkg/types"
)

// RoomStore is the slice of the store the coordinator needs. Upsert creates
// a defaulted room for unknown ids, Update fails with types.ErrRoomNotFound
// instead. Both apply the mutator atomically; a mutator error aborts the
// write and surfaces unchanged.
type RoomStore interface {
	Upsert(ctx context.Context, roomID string, mutator func(*types.Room) error) (*types.Room, error)
	Update(ctx context.Context, roomID string, mutator func(*types.Room) error) (*types.Room, error)
}

// Coordinator is the state machine behind every join, edit, leave and
// disconnect. Each operation is a single atomic read-modify-write against
// the store and returns the delivery intents the gateway must carry out.
//
// The participant-to-rooms index makes Disconnect an O(1) lookup instead of
// a scan over every room; it is maintained next to every membership change.
type Coordinator struct {
	store  RoomStore
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // participantID -> set of room ids
}

// New creates a coordinator on top of the given store.
func New(store RoomStore, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		logger: logger,
		rooms:  make(map[string]map[string]struct{}),
	}
}

// HandleEvent dispatches a decoded inbound event from the given sender.
func (c *Coordinator) HandleEvent(ctx context.Context, senderID string, ev types.Inbound) ([]Intent, error) {
	switch ev := ev.(type) {
	case types.JoinEvent:
		return c.Join(ctx, string(ev.CodeBlockID), senderID, ev.Role)
	case types.CodeChangeEvent:
		return c.Edit(ctx, string(ev.CodeBlockID), types.FieldCode, ev.NewCode)
	case types.SolutionChangeEvent:
		return c.Edit(ctx, string(ev.CodeBlockID), types.FieldSolution, ev.NewSolution)
	case types.LeaveEvent:
		return c.Leave(ctx, string(ev.CodeBlockID), senderID)
	case types.DisconnectEvent:
		return c.Disconnect(ctx, senderID)
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnknownEvent, ev)
	}
}

// Join adds the participant to the room, creating it on first use. The
// first participant of a mentor-less room becomes mentor; everyone else is
// a student. Joining twice with the same id is idempotent and the role is
// recomputed from the stored mentor id, never cached.
//
// assertedRole is normally empty. A client that explicitly asserts
// "student" for a room without a mentor is rejected with ErrMentorConflict
// instead of being promoted silently.
func (c *Coordinator) Join(ctx context.Context, roomID, participantID, assertedRole string) ([]Intent, error) {
	if !types.IsValidRoomID(roomID) {
		return nil, types.ErrMissingRoomID
	}

	room, err := c.store.Upsert(ctx, roomID, func(r *types.Room) error {
		if assertedRole == types.RoleStudent && r.MentorID == "" {
			return types.ErrMentorConflict
		}
		if r.MentorID == "" {
			r.MentorID = participantID
		}
		r.AddParticipant(participantID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.indexAttach(participantID, roomID)

	role := room.Role(participantID)
	students := StudentCount(room)

	c.logger.Info("participant joined",
		zap.String("room", roomID),
		zap.String("participant", participantID),
		zap.String("role", role),
		zap.Int("students", students))

	return []Intent{
		AttachRoom{RoomID: roomID, ParticipantID: participantID},
		Unicast{ParticipantID: participantID, Event: types.NewInitEvent(room.Code, room.Solution, role, students)},
		Multicast{RoomID: roomID, Event: types.NewStudentsCountEvent(students)},
	}, nil
}

// Edit replaces one buffer of an existing room, last writer wins. Edits to
// unknown rooms are silently ignored; there is no room to edit and nothing
// to broadcast.
func (c *Coordinator) Edit(ctx context.Context, roomID, field, value string) ([]Intent, error) {
	if !types.IsValidRoomID(roomID) {
		return nil, types.ErrMissingRoomID
	}
	if !types.IsValidBuffer(value) {
		return nil, fmt.Errorf("%s buffer exceeds maximum size", field)
	}

	_, err := c.store.Update(ctx, roomID, func(r *types.Room) error {
		switch field {
		case types.FieldCode:
			r.Code = value
		case types.FieldSolution:
			r.Solution = value
		default:
			return fmt.Errorf("unknown editable field %q", field)
		}
		return nil
	})
	if errors.Is(err, types.ErrRoomNotFound) {
		c.logger.Debug("edit for unknown room ignored", zap.String("room", roomID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var event types.Envelope
	if field == types.FieldCode {
		event = types.NewCodeUpdateEvent(value)
	} else {
		event = types.NewSolutionUpdateEvent(value)
	}

	return []Intent{Multicast{RoomID: roomID, Event: event}}, nil
}

// Leave removes the participant from one room. An unknown room id is
// reported back as types.ErrRoomNotFound with no state change.
func (c *Coordinator) Leave(ctx context.Context, roomID, participantID string) ([]Intent, error) {
	if !types.IsValidRoomID(roomID) {
		return nil, types.ErrMissingRoomID
	}
	return c.removeFromRoom(ctx, roomID, participantID)
}

// Disconnect removes the participant from every room they belong to,
// applying the same semantics as Leave independently per room. Membership
// comes from the participant index, so this never scans the store; each
// room's removal is its own atomic step and a failure in one room does not
// stop the others.
func (c *Coordinator) Disconnect(ctx context.Context, participantID string) ([]Intent, error) {
	roomIDs := c.RoomsOf(participantID)

	var intents []Intent
	var errs []error
	for _, roomID := range roomIDs {
		roomIntents, err := c.removeFromRoom(ctx, roomID, participantID)
		if errors.Is(err, types.ErrRoomNotFound) {
			c.indexDetach(participantID, roomID)
			continue
		}
		if err != nil {
			c.logger.Warn("disconnect cleanup failed for room",
				zap.String("room", roomID),
				zap.String("participant", participantID),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		intents = append(intents, roomIntents...)
	}

	if len(roomIDs) > 0 {
		c.logger.Info("participant disconnected",
			zap.String("participant", participantID),
			zap.Int("rooms", len(roomIDs)))
	}

	return intents, errors.Join(errs...)
}

// RoomsOf returns the rooms the participant is currently a member of, in a
// stable order.
func (c *Coordinator) RoomsOf(participantID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.rooms[participantID]))
	for roomID := range c.rooms[participantID] {
		ids = append(ids, roomID)
	}
	sort.Strings(ids)
	return ids
}

// removeFromRoom applies the departure transition. Policy for a departing
// mentor: the room is reset rather than silently promoting a student. The
// remaining participants get an explicit reset broadcast, are forced out of
// the delivery group, and the room returns to its empty defaults. A
// departing student only updates the student count.
func (c *Coordinator) removeFromRoom(ctx context.Context, roomID, participantID string) ([]Intent, error) {
	var wasMentor bool
	room, err := c.store.Update(ctx, roomID, func(r *types.Room) error {
		wasMentor = IsMentor(r, participantID)
		r.RemoveParticipant(participantID)

		if wasMentor {
			r.MentorID = ""
			r.Participants = nil
			r.Code = types.DefaultCode
		} else if len(r.Participants) == 0 {
			// Last student left a mentor-less room: back to rest state.
			r.MentorID = ""
			r.Code = types.DefaultCode
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wasMentor {
		c.indexClearRoom(roomID)
		c.logger.Info("mentor departed, room reset", zap.String("room", roomID))
		return []Intent{
			DetachRoom{RoomID: roomID, ParticipantID: participantID},
			Multicast{RoomID: roomID, Event: types.NewResetEvent()},
			DetachAll{RoomID: roomID},
		}, nil
	}

	c.indexDetach(participantID, roomID)
	c.logger.Info("participant left",
		zap.String("room", roomID),
		zap.String("participant", participantID))

	return []Intent{
		DetachRoom{RoomID: roomID, ParticipantID: participantID},
		Multicast{RoomID: roomID, Event: types.NewStudentsCountEvent(StudentCount(room))},
	}, nil
}

func (c *Coordinator) indexAttach(participantID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rooms[participantID] == nil {
		c.rooms[participantID] = make(map[string]struct{})
	}
	c.rooms[participantID][roomID] = struct{}{}
}

func (c *Coordinator) indexDetach(participantID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.rooms[participantID], roomID)
	if len(c.rooms[participantID]) == 0 {
		delete(c.rooms, participantID)
	}
}

// indexClearRoom drops the room from every participant's set after a reset.
func (c *Coordinator) indexClearRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for participantID, rooms := range c.rooms {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(c.rooms, participantID)
		}
	}
}
