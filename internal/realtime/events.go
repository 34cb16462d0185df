package realtime

import (
	"encoding/json"
	"time"

	"lingochat/internal/store"
)

// Client -> server commands on /ws/chat.
const (
	cmdJoinConversation  = "joinConversation"
	cmdLeaveConversation = "leaveConversation"
	cmdSendMessage       = "sendMessage"
	cmdTyping            = "typing"
	cmdDeleteMessage     = "deleteMessage"
	cmdClearConversation = "clearConversation"
	cmdMarkAsRead        = "markAsRead"
	cmdGetUserStatus     = "getUserStatus"
	cmdGetOnlineUsers    = "getOnlineUsers"
	cmdGetUnreadCounts   = "getUnreadCounts"
)

// Server -> client events on /ws/chat.
const (
	EventNewMessage               = "newMessage"
	EventMessageTranslationUpdate = "messageTranslationUpdate"
	EventMessageDeleted           = "messageDeleted"
	EventConversationCleared      = "conversationCleared"
	EventMessageStatusUpdate      = "messageStatusUpdate"
	EventUserStatusChanged        = "userStatusChanged"
	EventUserStatus               = "userStatus"
	EventOnlineUsers              = "onlineUsers"
	EventUserTyping               = "userTyping"
	EventUnreadCounts             = "unreadCounts"
	EventError                    = "error"
)

// errorEvents maps a command to the event its failures are reported on.
var errorEvents = map[string]string{
	cmdSendMessage:       "messageError",
	cmdDeleteMessage:     "deleteMessageError",
	cmdClearConversation: "clearConversationError",
	cmdJoinConversation:  "joinConversationError",
	cmdMarkAsRead:        "markAsReadError",
}

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// decodeData unmarshals a command payload. A missing payload leaves v zeroed.
func decodeData(f Frame, v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// ---------------------------------------------
// Command payloads
// ---------------------------------------------

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

type sendMessageCmd struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
	OriginalText   string `json:"originalText"`
	SourceLang     string `json:"sourceLang"`
	TargetLang     string `json:"targetLang,omitempty"`
}

type typingCmd struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type messageRef struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}

type userRef struct {
	UserID string `json:"userId"`
}

// ---------------------------------------------
// Event payloads
// ---------------------------------------------

// MessagePayload is a message rendered for one recipient.
type MessagePayload struct {
	ID                  string              `json:"id"`
	ConversationID      string              `json:"conversationId"`
	SenderID            string              `json:"senderId"`
	ReceiverID          string              `json:"receiverId"`
	OriginalText        string              `json:"originalText"`
	TranslatedText      string              `json:"translatedText"`
	SourceLang          string              `json:"sourceLang"`
	TargetLang          string              `json:"targetLang"`
	Timestamp           time.Time           `json:"timestamp"`
	Status              store.MessageStatus `json:"status"`
	IsTranslated        bool                `json:"isTranslated"`
	IsTranslationUpdate bool                `json:"isTranslationUpdate,omitempty"`
}

func renderMessage(m store.Message, translated, targetLang string) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		OriginalText:   m.OriginalText,
		TranslatedText: translated,
		SourceLang:     m.SourceLang,
		TargetLang:     targetLang,
		Timestamp:      m.CreatedAt,
		Status:         m.Status,
		IsTranslated:   translated != m.OriginalText,
	}
}

type MessageDeletedEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type ConversationClearedEvent struct {
	ConversationID string `json:"conversationId"`
	ClearedBy      string `json:"clearedBy"`
}

type MessageStatusEvent struct {
	MessageID      string              `json:"messageId,omitempty"`
	ConversationID string              `json:"conversationId"`
	Status         store.MessageStatus `json:"status"`
	ReadAt         *time.Time          `json:"readAt,omitempty"`
	ReadBy         string              `json:"readBy,omitempty"`
}

// UserStatusEvent reports presence. Seq is set on userStatusChanged only and
// grows with every edge, so a client keeps the highest seq it has seen per
// user and drops anything older.
type UserStatusEvent struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	Seq      uint64 `json:"seq,omitempty"`
}

type TypingEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type ErrorEvent struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}
