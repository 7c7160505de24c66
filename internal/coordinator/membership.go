package coordinator

import "github.com/EdenLuski/back/pkg/types"

// Membership helpers: pure functions over a room snapshot. The membership
// state itself lives inside the Room document so it is covered by the
// store's atomic read-modify-write.

// StudentCount returns how many non-mentor participants are present.
func StudentCount(room *types.Room) int {
	count := len(room.Participants)
	if room.MentorID != "" {
		count--
	}
	return count
}

// IsMentor reports whether the given participant is the room's mentor.
func IsMentor(room *types.Room, participantID string) bool {
	return room.MentorID != "" && room.MentorID == participantID
}

// ElectNextMentor picks the successor if the departing participant was the
// mentor: the earliest remaining participant by arrival order, or "" when
// the room empties. Arrival order makes the election deterministic for any
// interleaving of the same joins.
func ElectNextMentor(room *types.Room, departingID string) string {
	if !IsMentor(room, departingID) {
		return room.MentorID
	}
	for _, id := range room.Participants {
		if id != departingID {
			return id
		}
	}
	return ""
}
