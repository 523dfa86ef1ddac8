package history

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Chat is a named conversation between one user and one agent.
type Chat struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	UserID    string
	Name      string
	CreatedAt time.Time
}

// Turn is one human/AI exchange within a chat. Sequence numbers start at 1
// and are dense within a chat.
type Turn struct {
	ID             int64
	ChatID         uuid.UUID
	AgentID        uuid.UUID
	UserID         string
	Human          string
	AI             string
	SequenceNumber int
	CreatedAt      time.Time
}

// FormatTurns renders turns into the transcript block prompts consume:
//
//	Human: <input>
//	AI: <response>
//
// entries separated by blank lines, oldest first. Empty history renders as
// an empty string.
func FormatTurns(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	entries := make([]string, len(turns))
	for i, t := range turns {
		entries[i] = "Human: " + t.Human + "\nAI: " + t.AI
	}
	return strings.Join(entries, "\n\n")
}
