// Package chat owns conversations and the message log: membership checks,
// persistence with store-of-record translation, status transitions and unread counts.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"lingochat/internal/apperr"
	"lingochat/internal/store"
	"lingochat/internal/translation"
)

// Translator is the fail-soft translation contract. It never errors.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) string
}

// Presence reports whether a user has a live session.
type Presence interface {
	IsOnline(userID string) bool
}

type MessageService struct {
	conversations store.ConversationRepository
	messages      store.MessageRepository
	users         store.UserRepository
	translator    Translator
	presence      Presence
	translateWait time.Duration
	log           *slog.Logger
	clock         *monotonicClock
}

func NewMessageService(s *store.Store, translator Translator, translateWait time.Duration, log *slog.Logger) *MessageService {
	return &MessageService{
		conversations: s.Conversations,
		messages:      s.Messages,
		users:         s.Users,
		translator:    translator,
		translateWait: translateWait,
		log:           log,
		clock:         newMonotonicClock(time.Now),
	}
}

// SetPresence wires the session registry once it exists.
func (s *MessageService) SetPresence(p Presence) {
	s.presence = p
}

// Conversation loads a conversation and checks that userID takes part in it.
func (s *MessageService) Conversation(ctx context.Context, conversationID, userID string) (store.Conversation, error) {
	if conversationID == "" {
		return store.Conversation{}, apperr.BadRequest("conversationId is required")
	}
	c, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	if !c.HasParticipant(userID) {
		return store.Conversation{}, apperr.Forbidden("User not part of this conversation")
	}
	return c, nil
}

// Create persists a message. The stored translation always targets the
// receiver's current preferred language; translation failures never block it.
func (s *MessageService) Create(ctx context.Context, in CreateMessageInput) (store.Message, error) {
	if strings.TrimSpace(in.Text) == "" {
		return store.Message{}, apperr.BadRequest("message text cannot be empty")
	}
	sourceLang := "en"
	if in.SourceLang != "" {
		lang, err := translation.NormalizeLanguage(in.SourceLang)
		if err != nil {
			return store.Message{}, err
		}
		sourceLang = lang
	}

	conv, err := s.Conversation(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return store.Message{}, err
	}

	receiverID := in.ReceiverID
	if receiverID == "" {
		receiverID = otherParticipant(conv, in.SenderID)
	}
	if receiverID == in.SenderID || !conv.HasParticipant(receiverID) {
		return store.Message{}, apperr.BadRequest("receiver must be the other participant")
	}

	receiver, err := s.users.GetByID(ctx, receiverID)
	if err != nil {
		return store.Message{}, err
	}
	targetLang := receiver.PreferredLanguage

	// Translate hands back its input on failure; that is stored as no
	// translation at all.
	var translated *string
	if sourceLang != targetLang {
		tctx, cancel := context.WithTimeout(ctx, s.translateWait)
		out := s.translator.Translate(tctx, in.Text, sourceLang, targetLang)
		cancel()
		if out != in.Text {
			translated = &out
		}
	}

	now := s.clock.Next()
	m := store.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		ReceiverID:     receiverID,
		OriginalText:   in.Text,
		SourceLang:     sourceLang,
		TranslatedText: translated,
		TargetLang:     targetLang,
		Status:         store.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if s.presence != nil && s.presence.IsOnline(receiverID) {
		m.Status = store.StatusDelivered
		m.DeliveredAt = &now
	}

	if err := s.messages.Create(ctx, &m); err != nil {
		return store.Message{}, fmt.Errorf("save message: %w", err)
	}
	if err := s.conversations.Touch(ctx, conv.ID, m.ID, now); err != nil {
		s.log.Error("failed to advance conversation", "conversation_id", conv.ID, "error", err)
	}
	return m, nil
}

// FindByConversationID pages backwards from Before, returning the page in ascending order.
func (s *MessageService) FindByConversationID(ctx context.Context, in ListMessagesInput) (MessagePage, error) {
	if _, err := s.Conversation(ctx, in.ConversationID, in.UserID); err != nil {
		return MessagePage{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	msgs, err := s.messages.ListByConversation(ctx, in.ConversationID, in.Before, limit+1)
	if err != nil {
		return MessagePage{}, err
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	slices.Reverse(msgs)

	page := MessagePage{Messages: msgs, HasMore: hasMore}
	if page.Messages == nil {
		page.Messages = []store.Message{}
	}
	if hasMore && len(msgs) > 0 {
		cursor := msgs[0].CreatedAt
		page.NextCursor = &cursor
	}

	if in.TargetLang != "" {
		target, err := translation.NormalizeLanguage(in.TargetLang)
		if err != nil {
			return MessagePage{}, err
		}
		for i := range page.Messages {
			m := &page.Messages[i]
			if m.SourceLang == target {
				m.TranslatedText = &m.OriginalText
			} else {
				out := s.translator.Translate(ctx, m.OriginalText, m.SourceLang, target)
				m.TranslatedText = &out
			}
			m.TargetLang = target
		}
	}
	return page, nil
}

// MarkAsDelivered advances SENT to DELIVERED and returns the current record.
func (s *MessageService) MarkAsDelivered(ctx context.Context, messageID string) (store.Message, error) {
	m, _, err := s.messages.MarkDelivered(ctx, messageID, s.clock.Next())
	return m, err
}

// MarkAsRead is idempotent: readAt is set on the first call only. changed
// reports whether this call performed the transition.
func (s *MessageService) MarkAsRead(ctx context.Context, messageID, userID string) (m store.Message, changed bool, err error) {
	current, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return store.Message{}, false, err
	}
	if current.ReceiverID != userID {
		return store.Message{}, false, apperr.Unauthorized("only the receiver can mark a message as read")
	}
	return s.messages.MarkRead(ctx, messageID, userID, s.clock.Next())
}

// UnreadCounts maps conversation id to unread count; zero counts are omitted.
func (s *MessageService) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	counts, err := s.messages.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for id, n := range counts {
		if n <= 0 {
			delete(counts, id)
		}
	}
	return counts, nil
}

func (s *MessageService) MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error) {
	if _, err := s.Conversation(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.messages.MarkConversationRead(ctx, conversationID, userID, s.clock.Next())
}

// Delete removes a message the caller sent and returns it.
func (s *MessageService) Delete(ctx context.Context, messageID, userID string) (store.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return store.Message{}, err
	}
	if m.SenderID != userID {
		return store.Message{}, apperr.Forbidden("only the sender can delete a message")
	}
	ok, err := s.messages.Delete(ctx, messageID, userID)
	if err != nil {
		return store.Message{}, err
	}
	if !ok {
		return store.Message{}, apperr.NotFound("message not found")
	}
	return m, nil
}

// ClearConversation deletes every message the caller sent or received in the
// conversation. In a 1:1 conversation this empties both sides.
func (s *MessageService) ClearConversation(ctx context.Context, conversationID, userID string) (int64, error) {
	if _, err := s.Conversation(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	n, err := s.messages.DeleteForParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info("conversation cleared", "conversation_id", conversationID, "user_id", userID, "deleted", n)
	return n, nil
}

func otherParticipant(c store.Conversation, userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// ---------------------------------------------
// Conversations
// ---------------------------------------------

type ConversationService struct {
	conversations store.ConversationRepository
	messages      store.MessageRepository
	users         store.UserRepository
	now           func() time.Time
}

func NewConversationService(s *store.Store) *ConversationService {
	return &ConversationService{
		conversations: s.Conversations,
		messages:      s.Messages,
		users:         s.Users,
		now:           time.Now,
	}
}

// FindOrCreate returns the single conversation between userID and otherID.
func (s *ConversationService) FindOrCreate(ctx context.Context, userID, otherID string) (ConversationSummary, bool, error) {
	if otherID == "" {
		return ConversationSummary{}, false, apperr.BadRequest("userId is required")
	}
	if otherID == userID {
		return ConversationSummary{}, false, apperr.BadRequest("cannot start a conversation with yourself")
	}
	users, err := s.users.GetMany(ctx, []string{userID, otherID})
	if err != nil {
		return ConversationSummary{}, false, err
	}
	if _, ok := users[otherID]; !ok {
		return ConversationSummary{}, false, apperr.NotFound("user not found")
	}

	c, created, err := s.conversations.FindOrCreate(ctx, []string{userID, otherID}, s.now().UTC())
	if err != nil {
		return ConversationSummary{}, false, err
	}

	summary := ConversationSummary{ID: c.ID, UpdatedAt: c.UpdatedAt}
	for _, id := range c.Participants {
		if u, ok := users[id]; ok {
			summary.Participants = append(summary.Participants, participantOf(u))
		}
	}
	other := participantOf(users[otherID])
	summary.User = &other
	return summary, created, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]ConversationSummary, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, c := range convs {
		ids = append(ids, otherParticipant(c, userID))
	}
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	unread, err := s.messages.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary := ConversationSummary{ID: c.ID, UpdatedAt: c.UpdatedAt, UnreadCount: unread[c.ID]}
		if u, ok := users[otherParticipant(c, userID)]; ok {
			p := participantOf(u)
			summary.User = &p
		}

		last, err := s.messages.Latest(ctx, c.ID)
		switch {
		case err == nil:
			summary.LastMessage = &LastMessage{
				Text:      last.OriginalText,
				Timestamp: last.CreatedAt,
				IsOwn:     last.SenderID == userID,
			}
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}
