package types

const (
	maxRoomIDLength = 64
	maxBufferLength = 1 << 20 // 1 MiB per buffer is far beyond any exercise
)

// IsValidRoomID reports whether an id is acceptable as a room key.
func IsValidRoomID(id string) bool {
	return id != "" && len(id) <= maxRoomIDLength
}

// IsValidBuffer bounds the size of code and solution buffers so a single
// client cannot grow the stored document without limit.
func IsValidBuffer(s string) bool {
	return len(s) <= maxBufferLength
}
