package chat

import (
	"strconv"
	"strings"
)

// ParseRoomID converts a raw room identifier into a room id. Anything that is
// not a positive integer yields 0, which every manager operation ignores.
func ParseRoomID(raw string) int64 {
	roomID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || roomID <= 0 {
		return 0
	}
	return roomID
}
