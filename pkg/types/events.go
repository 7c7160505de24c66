package types

import (
	"encoding/json"
	"fmt"
)

// Wire event names. These are the contract with connected clients and must
// not be renamed.
const (
	EventJoin           = "join"
	EventCodeChange     = "codeChange"
	EventSolutionChange = "solutionChange"
	EventLeave          = "leave"
	EventDisconnect     = "disconnect"

	EventInit           = "init"
	EventStudentsCount  = "studentsCount"
	EventCodeUpdate     = "codeUpdate"
	EventSolutionUpdate = "solutionUpdate"
	EventReset          = "reset"
	EventError          = "error"
)

// Envelope is the frame exchanged over the wire in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// BlockID accepts both string and numeric JSON values, since the seeded
// demo rooms historically used small integer ids.
type BlockID string

func (b *BlockID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = BlockID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("code block id must be a string or number: %s", data)
	}
	*b = BlockID(n.String())
	return nil
}

// Inbound is the closed set of events a client may send. Payloads are
// validated at the gateway boundary so the coordinator never sees a
// malformed event.
type Inbound interface {
	inbound()
}

// JoinEvent asks to enter a room. Role is optional; when a client asserts
// "student" for a mentor-less room the join is rejected with
// ErrMentorConflict instead of silently promoting them.
type JoinEvent struct {
	CodeBlockID BlockID `json:"codeBlockId"`
	Role        string  `json:"role,omitempty"`
}

// CodeChangeEvent replaces the room's code buffer.
type CodeChangeEvent struct {
	CodeBlockID BlockID `json:"codeBlockId"`
	NewCode     string  `json:"newCode"`
}

// SolutionChangeEvent replaces the room's solution buffer.
type SolutionChangeEvent struct {
	CodeBlockID BlockID `json:"codeBlockId"`
	NewSolution string  `json:"newSolution"`
}

// LeaveEvent leaves a single room.
type LeaveEvent struct {
	CodeBlockID BlockID `json:"codeBlockId"`
}

// DisconnectEvent carries no payload; the participant identity comes from
// the connection. It is also synthesized by the gateway when a socket drops.
type DisconnectEvent struct{}

func (JoinEvent) inbound()           {}
func (CodeChangeEvent) inbound()     {}
func (SolutionChangeEvent) inbound() {}
func (LeaveEvent) inbound()          {}
func (DisconnectEvent) inbound()     {}

// DecodeInbound parses a raw frame into a typed event. Unknown event names
// yield ErrUnknownEvent, events that require a room id but lack one yield
// ErrMissingRoomID.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}

	switch env.Event {
	case EventJoin:
		var ev JoinEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.CodeBlockID == "" {
			return nil, ErrMissingRoomID
		}
		return ev, nil

	case EventCodeChange:
		var ev CodeChangeEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.CodeBlockID == "" {
			return nil, ErrMissingRoomID
		}
		return ev, nil

	case EventSolutionChange:
		var ev SolutionChangeEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.CodeBlockID == "" {
			return nil, ErrMissingRoomID
		}
		return ev, nil

	case EventLeave:
		var ev LeaveEvent
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.CodeBlockID == "" {
			return nil, ErrMissingRoomID
		}
		return ev, nil

	case EventDisconnect:
		return DisconnectEvent{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ErrMissingRoomID
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed event payload: %w", err)
	}
	return nil
}

// InitPayload is sent once, unicast, to a participant that joined a room.
type InitPayload struct {
	InitialCode string `json:"initialCode"`
	Solution    string `json:"solution"`
	Role        string `json:"role"`
	Students    int    `json:"students"`
}

func mustEnvelope(event string, payload any) Envelope {
	if payload == nil {
		return Envelope{Event: event}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// All outbound payloads are plain structs of strings and ints.
		panic(fmt.Sprintf("marshal %s payload: %v", event, err))
	}
	return Envelope{Event: event, Data: data}
}

// NewInitEvent builds the unicast snapshot for a freshly joined participant.
func NewInitEvent(code, solution, role string, students int) Envelope {
	return mustEnvelope(EventInit, InitPayload{
		InitialCode: code,
		Solution:    solution,
		Role:        role,
		Students:    students,
	})
}

// NewStudentsCountEvent builds the room-wide student counter update.
func NewStudentsCountEvent(count int) Envelope {
	return mustEnvelope(EventStudentsCount, map[string]int{"count": count})
}

// NewCodeUpdateEvent builds the room-wide code buffer update.
func NewCodeUpdateEvent(newCode string) Envelope {
	return mustEnvelope(EventCodeUpdate, map[string]string{"newCode": newCode})
}

// NewSolutionUpdateEvent builds the room-wide solution buffer update.
func NewSolutionUpdateEvent(newSolution string) Envelope {
	return mustEnvelope(EventSolutionUpdate, map[string]string{"newSolution": newSolution})
}

// NewResetEvent tells every remaining participant that the mentor departed
// and the room was reset; clients are expected to rejoin cleanly.
func NewResetEvent() Envelope {
	return mustEnvelope(EventReset, nil)
}

// NewErrorEvent reports a failed event back to its sender only.
func NewErrorEvent(msg string) Envelope {
	return mustEnvelope(EventError, map[string]string{"message": msg})
}
