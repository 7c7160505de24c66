package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T) *Registry {
	return NewRegistry(zaptest.NewLogger(t))
}

func TestRegistry_RegisterNil(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.Register(nil), ErrNilConnection)
}

func TestRegistry_AttachDetachGroups(t *testing.T) {
	r := newTestRegistry(t)

	r.Attach("7", "a")
	r.Attach("7", "b")
	assert.Equal(t, 1, r.Stats()["rooms"])

	r.Detach("7", "a")
	assert.Equal(t, 1, r.Stats()["rooms"])

	// Empty groups are dropped entirely.
	r.Detach("7", "b")
	assert.Equal(t, 0, r.Stats()["rooms"])

	// Detaching from an unknown room is a no-op.
	r.Detach("404", "a")
}

func TestRegistry_DetachAllClearsRoom(t *testing.T) {
	r := newTestRegistry(t)

	r.Attach("7", "a")
	r.Attach("7", "b")
	r.Attach("8", "a")

	r.DetachAll("7")
	assert.Equal(t, 1, r.Stats()["rooms"])
	assert.Empty(t, r.GroupConnections("7"))
}

func TestRegistry_GroupConnectionsSkipsDeadParticipants(t *testing.T) {
	r := newTestRegistry(t)

	// Attached but never registered: the coordinator admitted them but the
	// socket is already gone. Broadcast must simply skip them.
	r.Attach("7", "ghost")
	require.Empty(t, r.GroupConnections("7"))
}
