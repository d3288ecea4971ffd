package session

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Participant is a member of a session, unique by UserID.
type Participant struct {
	UserID   string    `json:"userId" bson:"userId"`
	Username string    `json:"username" bson:"username"`
	JoinedAt time.Time `json:"joinedAt" bson:"joinedAt"`
}

// ChatEntry is one append-only chat message.
type ChatEntry struct {
	ID        string    `json:"id" bson:"id"`
	UserID    string    `json:"userId" bson:"userId"`
	Message   string    `json:"message" bson:"message"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Cursor is a user's last reported caret position.
type Cursor struct {
	Line   int `json:"line" bson:"line"`
	Column int `json:"column" bson:"column"`
}

// Settings are supplied at creation time.
type Settings struct {
	InitialCode string `json:"initialCode,omitempty" bson:"initialCode,omitempty"`
	Language    string `json:"language,omitempty" bson:"language,omitempty"`
}

// Session is the shared state of one collaborative coding context.
type Session struct {
	ID           string            `json:"id" bson:"_id"`
	CreatorID    string            `json:"creatorId" bson:"creatorId"`
	Participants []Participant     `json:"participants" bson:"participants"`
	Code         string            `json:"code" bson:"code"`
	CodeVersion  int64             `json:"codeVersion" bson:"codeVersion"`
	LastEditedBy string            `json:"lastEditedBy,omitempty" bson:"lastEditedBy,omitempty"`
	ChatLog      []ChatEntry       `json:"chatLog" bson:"chatLog"`
	Cursors      map[string]Cursor `json:"cursors" bson:"cursors"`
	Language     string            `json:"language,omitempty" bson:"language,omitempty"`
	Status       Status            `json:"status" bson:"status"`
	CreatedAt    time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt" bson:"updatedAt"`
	EndedAt      *time.Time        `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
}

// HasParticipant reports whether userID is currently a member.
func (s *Session) HasParticipant(userID string) bool {
	return s.participantIndex(userID) >= 0
}

func (s *Session) participantIndex(userID string) int {
	for i, p := range s.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// CodeUpdate is the outcome of a code write.
type CodeUpdate struct {
	Version int64 `json:"version"`
	// Conflict is set when the writer's base version was older than the
	// version it overwrote. The write is applied regardless.
	Conflict bool `json:"conflict"`
}

func clone(s *Session) *Session {
	c := *s
	// Never nil: empty lists must encode as [] rather than null.
	c.Participants = make([]Participant, len(s.Participants))
	copy(c.Participants, s.Participants)
	c.ChatLog = make([]ChatEntry, len(s.ChatLog))
	copy(c.ChatLog, s.ChatLog)
	c.Cursors = make(map[string]Cursor, len(s.Cursors))
	for k, v := range s.Cursors {
		c.Cursors[k] = v
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
