package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EdenLuski/back/internal/store"
	"github.com/EdenLuski/back/pkg/types"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, zaptest.NewLogger(t)), s
}

func intentsOfType[T Intent](intents []Intent) []T {
	var out []T
	for _, intent := range intents {
		if it, ok := intent.(T); ok {
			out = append(out, it)
		}
	}
	return out
}

func initPayload(t *testing.T, intents []Intent) types.InitPayload {
	t.Helper()
	unicasts := intentsOfType[Unicast](intents)
	require.Len(t, unicasts, 1)
	require.Equal(t, types.EventInit, unicasts[0].Event.Event)

	var payload types.InitPayload
	require.NoError(t, json.Unmarshal(unicasts[0].Event.Data, &payload))
	return payload
}

func requireInvariants(t *testing.T, room *types.Room) {
	t.Helper()
	if room.MentorID != "" {
		require.True(t, room.HasParticipant(room.MentorID),
			"mentor %q must be a participant", room.MentorID)
	}
	seen := make(map[string]bool)
	for _, p := range room.Participants {
		require.False(t, seen[p], "duplicate participant %q", p)
		seen[p] = true
	}
	if len(room.Participants) == 0 {
		require.Empty(t, room.MentorID)
		require.Equal(t, types.DefaultCode, room.Code)
	}
}

func TestJoin_FirstParticipantBecomesMentor(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	intents, err := coord.Join(ctx, "7", "A", "")
	require.NoError(t, err)

	payload := initPayload(t, intents)
	assert.Equal(t, types.RoleMentor, payload.Role)
	assert.Equal(t, types.DefaultCode, payload.InitialCode)
	assert.Equal(t, 0, payload.Students)

	attaches := intentsOfType[AttachRoom](intents)
	require.Len(t, attaches, 1)
	assert.Equal(t, AttachRoom{RoomID: "7", ParticipantID: "A"}, attaches[0])

	multicasts := intentsOfType[Multicast](intents)
	require.Len(t, multicasts, 1)
	assert.Equal(t, types.EventStudentsCount, multicasts[0].Event.Event)
	assert.JSONEq(t, `{"count":0}`, string(multicasts[0].Event.Data))

	room, err := s.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "A", room.MentorID)
	assert.Equal(t, []string{"A"}, room.Participants)
	requireInvariants(t, room)
}

func TestJoin_SecondParticipantIsStudent(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Join(ctx, "7", "A", "")
	require.NoError(t, err)
	intents, err := coord.Join(ctx, "7", "B", "")
	require.NoError(t, err)

	payload := initPayload(t, intents)
	assert.Equal(t, types.RoleStudent, payload.Role)
	assert.Equal(t, 1, payload.Students)

	multicasts := intentsOfType[Multicast](intents)
	require.Len(t, multicasts, 1)
	assert.JSONEq(t, `{"count":1}`, string(multicasts[0].Event.Data))

	room, err := s.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "A", room.MentorID)
	assert.Equal(t, []string{"A", "B"}, room.Participants)
	requireInvariants(t, room)
}

func TestJoin_DuplicateJoinIsIdempotent(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	first, err := coord.Join(ctx, "7", "A", "")
	require.NoError(t, err)
	again, err := coord.Join(ctx, "7", "A", "")
	require.NoError(t, err)

	// Same role, same membership, role recomputed rather than cached.
	assert.Equal(t, initPayload(t, first).Role, initPayload(t, again).Role)

	room, err := s.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, room.Participants)
	requireInvariants(t, room)
}

func TestJoin_MissingRoomID(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	intents, err := coord.Join(context.Background(), "", "A", "")
	assert.ErrorIs(t, err, types.ErrMissingRoomID)
	assert.Empty(t, intents)
}

func TestJoin_StudentAssertingRoleNeedsMentorFirst(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	intents, err := coord.Join(ctx, "7", "B", types.RoleStudent)
	assert.ErrorIs(t, err, types.ErrMentorConflict)
	assert.Empty(t, intents)

	// The aborted join must not even have created the room.
	_, err = s.Get(ctx, "7")
	assert.ErrorIs(t, err, types.ErrRoomNotFound)

	// Once a mentor is in, the asserted student role is fine.
	_, err = coord.Join(ctx, "7", "A", "")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "7", "B", types.RoleStudent)
	require.NoError(t, err)
}

func TestEdit_UpdatesBufferAndBroadcasts(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Join(ctx, "7", "A", "")
	require.NoError(t, err)

	intents, err := coord.Edit(ctx, "7", types.FieldCode, "x = 1")
	require.NoError(t, err)
	multicasts := intentsOfType[Multicast](intents)
	require.Len(t, multicasts, 1)
	assert.Equal(t, types.EventCodeUpdate, multicasts[0].Event.Event)
	assert.JSONEq(t, `{"newCode":"x = 1"}`, string(multicasts[0].Event.Data))

	intents, err = coord.Edit(ctx, "7", types.FieldSolution, "y = 2")
	require.NoError(t, err)
	multicasts = intentsOfType[Multicast](intents)
	require.Len(t, multicasts, 1)
	assert.Equal(t, types.EventSolutionUpdate, multicasts[0].Event.Event)

	room, err := s.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", room.Code)
	assert.Equal(t, "y = 2", room.Solution)
}

func TestEdit_UnknownRoomSilentlyIgnored(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	intents, err := coord.Edit(ctx, "404", types.FieldCode, "x = 1")
	assert.NoError(t, err)
	assert.Empty(t, intents)

	_, err = s.Get(ctx, "404")
	assert.ErrorIs(t, err, types.ErrRoomNotFound)
}

func TestLeave_StudentUpdatesCount(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Join(ctx, "7", "A", "")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "7", "B", "")
	require.NoError(t, err)

	intents, err := coord.Leave(ctx, "7", "B")
	require.NoError(t, err)

	detaches := intentsOfType[DetachRoom](intents)
	require.Len(t, detaches, 1)
	assert.Equal(t, DetachRoom{RoomID: "7", ParticipantID: "B"}, detaches[0])

	multicasts := intentsOfType[Multicast](intents)
	require.Len(t, multicasts, 1)
	assert.Equal(t, types.EventStudentsCount, multicasts[0].Event.Event)
	assert.JSONEq(t, `{"count":0}`, string(multicasts[0].Event.Data))

	room, err := s.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "A", room.MentorID)
	assert.Equal(t, []string{"A"}, room.Participants)
	requireInvariants(t, room)
}

func TestLeave_MentorDepartureResetsRoom(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Join(ctx, "7", "A", "")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "7", "B", "")
	require.NoError(t, err)
	_, err = coord.Edit(ctx, "7", types.FieldCode, "work in progress")
	require.NoError(t, err)

	intents, err := coord.Leave(ctx, "7", "A")
	require.NoError(t, err)

	multicasts := intentsOfType[Multicast](intents)
	require.Len(t, multicasts, 1)
	assert.Equal(t, types.EventReset, multicasts[0].Event.Event)

	detachAlls := intentsOfType[DetachAll](intents)
	require.Len(t, detachAlls, 1)
	assert.Equal(t, "7", detachAlls[0].RoomID)

	// Room is back to its empty rest state, student edits discarded.
	room, err := s.Get(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, room.MentorID)
	assert.Empty(t, room.Participants)
	assert.Equal(t, types.DefaultCode, room.Code)
	requireInvariants(t, room)

	// Forced-out students are no longer indexed anywhere.
	assert.Empty(t, coord.RoomsOf("B"))
}

func TestLeave_UnknownRoom(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Leave(context.Background(), "404", "A")
	assert.ErrorIs(t, err, types.ErrRoomNotFound)
}

func TestDisconnect_CleansEveryRoomIndependently(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	// A mentors room 1 and studies in room 2.
	_, err := coord.Join(ctx, "1", "A", "")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "2", "M", "")
	require.NoError(t, err)
	_, err = coord.Join(ctx, "2", "A", "")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, coord.RoomsOf("A"))

	intents, err := coord.Disconnect(ctx, "A")
	require.NoError(t, err)

	// Room 1 reset (A was mentor), room 2 only lost a student.
	events := make(map[string]int)
	for _, m := range intentsOfType[Multicast](intents) {
		events[m.RoomID+"/"+m.Event.Event]++
	}
	assert.Equal(t, 1, events["1/"+types.EventReset])
	assert.Equal(t, 1, events["2/"+types.EventStudentsCount])

	room1, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, room1.Participants)
	assert.Equal(t, types.DefaultCode, room1.Code)

	room2, err := s.Get(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "M", room2.MentorID)
	assert.Equal(t, []string{"M"}, room2.Participants)

	assert.Empty(t, coord.RoomsOf("A"))
	requireInvariants(t, room1)
	requireInvariants(t, room2)
}

func TestDisconnect_NoRoomsIsNoOp(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	intents, err := coord.Disconnect(context.Background(), "ghost")
	assert.NoError(t, err)
	assert.Empty(t, intents)
}

func TestConcurrentJoins_NewRoomGetsExactlyOneMentor(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	const joiners = 16
	roles := make([]string, joiners)

	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			intents, err := coord.Join(ctx, "fresh", fmt.Sprintf("p%02d", n), "")
			if !assert.NoError(t, err) {
				return
			}
			for _, it := range intentsOfType[Unicast](intents) {
				var payload types.InitPayload
				if assert.NoError(t, json.Unmarshal(it.Event.Data, &payload)) {
					roles[n] = payload.Role
				}
			}
		}(i)
	}
	wg.Wait()

	mentors := 0
	for _, role := range roles {
		if role == types.RoleMentor {
			mentors++
		}
	}
	assert.Equal(t, 1, mentors, "exactly one joiner should have been told mentor")

	room, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Len(t, room.Participants, joiners)
	requireInvariants(t, room)
}

// Walks the end-to-end scenario: join, join, edit, mentor leaves, and the
// room returns to its empty defaults under the reset policy.
func TestScenario_MentorAndStudentLifecycle(t *testing.T) {
	coord, s := newTestCoordinator(t)
	ctx := context.Background()

	intents, err := coord.Join(ctx, "7", "A", "")
	require.NoError(t, err)
	payload := initPayload(t, intents)
	assert.Equal(t, types.RoleMentor, payload.Role)
	assert.Equal(t, 0, payload.Students)

	intents, err = coord.Join(ctx, "7", "B", "")
	require.NoError(t, err)
	payload = initPayload(t, intents)
	assert.Equal(t, types.RoleStudent, payload.Role)
	assert.Equal(t, 1, payload.Students)

	intents, err = coord.Edit(ctx, "7", types.FieldCode, "x=1")
	require.NoError(t, err)
	multicasts := intentsOfType[Multicast](intents)
	require.Len(t, multicasts, 1)
	assert.JSONEq(t, `{"newCode":"x=1"}`, string(multicasts[0].Event.Data))

	intents, err = coord.Leave(ctx, "7", "A")
	require.NoError(t, err)
	multicasts = intentsOfType[Multicast](intents)
	require.Len(t, multicasts, 1)
	assert.Equal(t, types.EventReset, multicasts[0].Event.Event)

	room, err := s.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultCode, room.Code)
	assert.Empty(t, room.MentorID)
	assert.Empty(t, room.Participants)
}
