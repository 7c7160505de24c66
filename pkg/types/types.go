package types

// DefaultCode is the buffer every room starts with and returns to once the
// last participant is gone.
const DefaultCode = "// Write code here"

// Participant roles, derived from Room.MentorID and never stored on their own.
const (
	RoleMentor  = "mentor"
	RoleStudent = "student"
)

// Editable buffer fields of a room.
const (
	FieldCode     = "code"
	FieldSolution = "solution"
)

// Room is a single collaborative code block: one shared code buffer, one
// shared solution buffer, at most one mentor and any number of students.
// Rooms are created lazily on first join (or seeded at startup), never
// deleted, and mutated only through the store's atomic read-modify-write.
type Room struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	Solution string `json:"solution"`
	// MentorID is empty when the room has no mentor. If set it is always a
	// member of Participants.
	MentorID string `json:"mentor"`
	// Participants holds connected participant ids in arrival order, mentor
	// included, without duplicates.
	Participants []string `json:"participants"`
}

// NewRoom returns an empty room with the default code buffer.
func NewRoom(id, name string) *Room {
	return &Room{
		ID:   id,
		Name: name,
		Code: DefaultCode,
	}
}

// HasParticipant reports whether the given id is currently in the room.
func (r *Room) HasParticipant(id string) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// AddParticipant appends the id preserving arrival order. Adding an id that
// is already present is a no-op, which makes duplicate joins idempotent.
func (r *Room) AddParticipant(id string) {
	if r.HasParticipant(id) {
		return
	}
	r.Participants = append(r.Participants, id)
}

// RemoveParticipant removes the id, keeping the order of the rest.
func (r *Room) RemoveParticipant(id string) {
	for i, p := range r.Participants {
		if p == id {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return
		}
	}
}

// Role returns the role the given participant holds in this room. Roles are
// always recomputed from MentorID so a stale cached role can never disagree
// with the stored document.
func (r *Room) Role(id string) string {
	if r.MentorID != "" && r.MentorID == id {
		return RoleMentor
	}
	return RoleStudent
}

// Clone returns a deep copy so callers can hand snapshots out without
// exposing the store's document to mutation.
func (r *Room) Clone() *Room {
	cp := *r
	cp.Participants = append([]string(nil), r.Participants...)
	return &cp
}
