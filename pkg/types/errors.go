package types

import "errors"

// Failure kinds shared across the coordinator boundary. Every failure is
// local to the single event that caused it; none of them is fatal to the
// process and a failed transition leaves the room unchanged.
var (
	// ErrMissingRoomID means an event arrived without a room identifier.
	// The event is rejected before any state is touched.
	ErrMissingRoomID = errors.New("event is missing a code block id")

	// ErrRoomNotFound means the referenced room does not exist.
	ErrRoomNotFound = errors.New("code block not found")

	// ErrStorageUnavailable means the backing store could not be reached.
	// The event is dropped with no partial state change; the sender may retry.
	ErrStorageUnavailable = errors.New("room storage unavailable")

	// ErrMentorConflict means a join asserted the student role for a room
	// that has no mentor yet. The join is rejected rather than silently
	// promoting the student.
	ErrMentorConflict = errors.New("mentor must join first")

	// ErrUnknownEvent means the inbound envelope named an event outside the
	// wire contract.
	ErrUnknownEvent = errors.New("unknown event")
)
