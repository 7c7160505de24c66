package coordinator

import "github.com/EdenLuski/back/pkg/types"

// Intent is an outbound delivery instruction the coordinator hands back to
// the gateway. The coordinator never touches connections itself; it only
// decides who must hear what.
type Intent interface {
	intent()
}

// Unicast delivers an event to a single participant.
type Unicast struct {
	ParticipantID string
	Event         types.Envelope
}

// Multicast delivers an event to every participant attached to a room.
type Multicast struct {
	RoomID string
	Event  types.Envelope
}

// AttachRoom adds a participant to a room's delivery group.
type AttachRoom struct {
	RoomID        string
	ParticipantID string
}

// DetachRoom removes a participant from a room's delivery group.
type DetachRoom struct {
	RoomID        string
	ParticipantID string
}

// DetachAll clears a room's delivery group, forcing every remaining
// participant out after a mentor-departure reset.
type DetachAll struct {
	RoomID string
}

func (Unicast) intent()    {}
func (Multicast) intent()  {}
func (AttachRoom) intent() {}
func (DetachRoom) intent() {}
func (DetachAll) intent()  {}
