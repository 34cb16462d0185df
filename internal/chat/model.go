package chat

import (
	"time"

	"lingochat/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ---------------------------------------------
// Service inputs & outputs
// ---------------------------------------------

type CreateMessageInput struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Text           string
	SourceLang     string
	// TargetLang is accepted for compatibility; the receiver's preferred language wins.
	TargetLang string
}

type ListMessagesInput struct {
	ConversationID string
	UserID         string
	Before         *time.Time
	Limit          int
	// TargetLang re-renders translatedText for viewing in another language.
	TargetLang string
}

type MessagePage struct {
	Messages   []store.Message `json:"messages"`
	HasMore    bool            `json:"hasMore"`
	NextCursor *time.Time      `json:"nextCursor,omitempty"`
}

type Participant struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Mobile            string `json:"mobile"`
	PreferredLanguage string `json:"preferredLanguage"`
}

func participantOf(u store.User) Participant {
	return Participant{ID: u.ID, Name: u.Name, Mobile: u.Mobile, PreferredLanguage: u.PreferredLanguage}
}

type LastMessage struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsOwn     bool      `json:"isOwn"`
}

// ConversationSummary is a conversation as seen by one participant.
type ConversationSummary struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants,omitempty"`
	User         *Participant  `json:"user"`
	LastMessage  *LastMessage  `json:"lastMessage"`
	UnreadCount  int           `json:"unreadCount"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ---------------------------------------------
// HTTP payloads
// ---------------------------------------------

type createConversationRequest struct {
	UserID string `json:"userId"`
}

type sendMessageRequest struct {
	OriginalText string `json:"originalText"`
	SourceLang   string `json:"sourceLang"`
	TargetLang   string `json:"targetLang"`
	ReceiverID   string `json:"receiverId"`
}
