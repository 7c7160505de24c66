package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/EdenLuski/back/pkg/types"
)

func roomWith(mentor string, participants ...string) *types.Room {
	room := types.NewRoom("7", "Block 7")
	room.MentorID = mentor
	room.Participants = participants
	return room
}

func TestStudentCount(t *testing.T) {
	assert.Equal(t, 0, StudentCount(roomWith("")))
	assert.Equal(t, 0, StudentCount(roomWith("a", "a")))
	assert.Equal(t, 2, StudentCount(roomWith("a", "a", "b", "c")))
	assert.Equal(t, 1, StudentCount(roomWith("", "b")))
}

func TestIsMentor(t *testing.T) {
	room := roomWith("a", "a", "b")
	assert.True(t, IsMentor(room, "a"))
	assert.False(t, IsMentor(room, "b"))

	// A mentor-less room has no mentor, not a mentor with id "".
	assert.False(t, IsMentor(roomWith("", "b"), ""))
}

func TestElectNextMentor(t *testing.T) {
	room := roomWith("a", "a", "b", "c")

	// Successor is the earliest remaining participant by arrival order.
	assert.Equal(t, "b", ElectNextMentor(room, "a"))

	// A departing student never changes the mentor.
	assert.Equal(t, "a", ElectNextMentor(room, "b"))

	// Last participant leaving elects nobody.
	assert.Equal(t, "", ElectNextMentor(roomWith("a", "a"), "a"))
}
