package store

import (
	"slices"
	"strings"
	"time"
)

// ---------------------------------------------
// Users & OTPs
// ---------------------------------------------

type User struct {
	ID                string     `json:"id"`
	Mobile            string     `json:"mobile"`
	Name              string     `json:"name"`
	PreferredLanguage string     `json:"preferredLanguage"`
	IsVerified        bool       `json:"isVerified"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastLoginAt       *time.Time `json:"lastLoginAt,omitempty"`
}

// RegistrationData is captured at register time and applied on the first successful verify.
type RegistrationData struct {
	Name              string `json:"name"`
	PreferredLanguage string `json:"preferredLanguage"`
}

type Otp struct {
	ID               string
	Mobile           string
	Code             string
	ExpiresAt        time.Time
	IsUsed           bool
	Attempts         int
	RegistrationData *RegistrationData
	CreatedAt        time.Time
}

// Live reports whether the OTP can still be verified at now.
func (o *Otp) Live(now time.Time) bool {
	return !o.IsUsed && o.ExpiresAt.After(now)
}

// ---------------------------------------------
// Conversations & Messages
// ---------------------------------------------

type Conversation struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	LastMessageID *string   `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// PairKey is the canonical, order-independent key for a set of participants.
// It backs the one-conversation-per-pair invariant.
func PairKey(userIDs ...string) string {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return strings.Join(ids, ":")
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether s -> next is a forward transition.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.rank() > s.rank()
}

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	ReceiverID     string        `json:"receiverId"`
	OriginalText   string        `json:"originalText"`
	SourceLang     string        `json:"sourceLang"`
	TranslatedText *string       `json:"translatedText"`
	TargetLang     string        `json:"targetLang"`
	Status         MessageStatus `json:"status"`
	DeliveredAt    *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time    `json:"readAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}
