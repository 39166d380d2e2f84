package mirror

import (
	"fmt"
	"strconv"
	"strings"
)

// Path addresses a node in the mirror tree. Each element maps onto one nested bucket.
type Path []string

// ParsePath splits a slash separated path. Empty elements are dropped.
func ParsePath(s string) Path {
	var p Path
	for _, e := range strings.Split(s, "/") {
		if e != "" {
			p = append(p, e)
		}
	}
	return p
}

func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}

// Child returns a new path with elems appended.
func (p Path) Child(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	out = append(out, p...)
	return append(out, elems...)
}

// HasPrefix reports whether prefix is an ancestor of, or equal to, p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (p Path) validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, e := range p {
		if e == "" || strings.ContainsAny(e, "/\x00") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
		}
	}
	return nil
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

// GroupPath is /groups/{groupId}.
func GroupPath(groupID int64) Path {
	return Path{"groups", id(groupID)}
}

// JourneyPath is /groups/{groupId}/journeys/{journeyId}.
func JourneyPath(groupID, journeyID int64) Path {
	return GroupPath(groupID).Child("journeys", id(journeyID))
}

// ParticipationPath is /groups/{groupId}/journeys/{journeyId}/participations/{userId}.
func ParticipationPath(groupID, journeyID, userID int64) Path {
	return JourneyPath(groupID, journeyID).Child("participations", id(userID))
}

// PositionsPath is the root of every user's position log for a journey.
func PositionsPath(groupID, journeyID int64) Path {
	return JourneyPath(groupID, journeyID).Child("positions")
}

// UserPositionsPath is /groups/{groupId}/journeys/{journeyId}/positions/{userId}.
func UserPositionsPath(groupID, journeyID, userID int64) Path {
	return PositionsPath(groupID, journeyID).Child(id(userID))
}

// GroupChatPath is the pointer from a group to its chat.
func GroupChatPath(groupID int64) Path {
	return GroupPath(groupID).Child("chat")
}

// ChatPath is /chats/{chatId}.
func ChatPath(chatID string) Path {
	return Path{"chats", chatID}
}
