// Package realtime is the websocket side of the chat: live sessions, rooms,
// presence and the personalized fanout of messages.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lingochat/internal/apperr"
	"lingochat/internal/chat"
	"lingochat/internal/metrics"
	"lingochat/internal/store"
)

type HubConfig struct {
	// InlineWait bounds the translation done before newMessage goes out.
	InlineWait time.Duration
	// RefineWait bounds each background refinement.
	RefineWait time.Duration
}

// Hub routes client commands and emits server events. It holds no state of
// its own beyond the registry and reads and writes through the services.
type Hub struct {
	registry   *Registry
	broker     Broker
	messages   *chat.MessageService
	users      store.UserRepository
	translator chat.Translator
	refine     *Executor
	cfg        HubConfig
	log        *slog.Logger
}

func NewHub(registry *Registry, broker Broker, messages *chat.MessageService, users store.UserRepository,
	translator chat.Translator, refine *Executor, cfg HubConfig, log *slog.Logger) *Hub {
	return &Hub{
		registry:   registry,
		broker:     broker,
		messages:   messages,
		users:      users,
		translator: translator,
		refine:     refine,
		cfg:        cfg,
		log:        log,
	}
}

// ---------------------------------------------
// Connection lifecycle
// ---------------------------------------------

// Connect and Disconnect run on different goroutines, so a fast reconnect
// can publish its online edge before the old socket's offline edge. Both
// carry the registry's edge seq for receivers to order them.
func (h *Hub) Connect(s *Session) {
	first, seq := h.registry.Attach(s)
	h.log.Debug("session attached", "session_id", s.ID, "user_id", s.UserID, "first", first)
	if first {
		h.emit(context.Background(), "", s.ID, EventUserStatusChanged, UserStatusEvent{UserID: s.UserID, IsOnline: true, Seq: seq})
	}
}

func (h *Hub) Disconnect(s *Session) {
	s.Close()
	if _, last, seq := h.registry.Detach(s.ID); last {
		h.emit(context.Background(), "", "", EventUserStatusChanged, UserStatusEvent{UserID: s.UserID, IsOnline: false, Seq: seq})
	}
	h.log.Debug("session detached", "session_id", s.ID, "user_id", s.UserID)
}

// Handle runs one client command. Failures go back to the requesting
// session only.
func (h *Hub) Handle(s *Session, f Frame) {
	ctx := s.Context()
	var err error
	switch f.Event {
	case cmdJoinConversation:
		err = h.join(ctx, s, f)
	case cmdLeaveConversation:
		err = h.leave(s, f)
	case cmdSendMessage:
		err = h.send(ctx, s, f)
	case cmdTyping:
		err = h.typing(ctx, s, f)
	case cmdDeleteMessage:
		err = h.deleteMessage(ctx, s, f)
	case cmdClearConversation:
		err = h.clearConversation(ctx, s, f)
	case cmdMarkAsRead:
		err = h.markAsRead(ctx, s, f)
	case cmdGetUserStatus:
		err = h.userStatus(s, f)
	case cmdGetOnlineUsers:
		s.Emit(EventOnlineUsers, h.registry.OnlineUsers())
	case cmdGetUnreadCounts:
		err = h.sendUnreadCounts(ctx, s)
	default:
		err = apperr.BadRequest(fmt.Sprintf("unknown event %q", f.Event))
	}
	if err != nil {
		replyError(h.log, s, f.Event, err)
	}
}

func replyError(log *slog.Logger, s *Session, command string, err error) {
	if apperr.HTTPStatus(err) >= 500 {
		log.Error("realtime command failed", "event", command, "session_id", s.ID, "error", err)
	}
	if event, ok := errorEvents[command]; ok {
		s.Emit(event, ErrorEvent{Error: apperr.Message(err)})
		return
	}
	s.Emit(EventError, ErrorEvent{Event: command, Error: apperr.Message(err)})
}

func decode(f Frame, v any) error {
	if err := decodeData(f, v); err != nil {
		return apperr.BadRequest("malformed " + f.Event + " payload")
	}
	return nil
}

// emit publishes an event to a room through the broker. Empty room means
// every session; except skips one session id.
func (h *Hub) emit(ctx context.Context, room, except, event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.log.Error("encode event failed", "event", event, "error", err)
		return
	}
	if err := h.broker.Publish(ctx, Envelope{Room: room, Except: except, Payload: frame}); err != nil {
		h.log.Error("publish event failed", "event", event, "room", room, "error", err)
	}
}

// ---------------------------------------------
// Rooms
// ---------------------------------------------

func (h *Hub) join(ctx context.Context, s *Session, f Frame) error {
	var in conversationRef
	if err := decode(f, &in); err != nil {
		return err
	}
	conv, err := h.messages.Conversation(ctx, in.ConversationID, s.UserID)
	if err != nil {
		return err
	}
	h.registry.JoinRoom(s.ID, ConversationRoom(conv.ID))

	// The first snapshot lets the client show what was unread before the
	// conversation was opened.
	before, err := h.messages.UnreadCounts(ctx, s.UserID)
	if err != nil {
		return err
	}
	s.Emit(EventUnreadCounts, nonNil(before))

	changed, err := h.messages.MarkConversationRead(ctx, conv.ID, s.UserID)
	if err != nil {
		return err
	}
	if err := h.pushUnreadCounts(ctx, s.UserID); err != nil {
		return err
	}
	if changed > 0 {
		for _, p := range conv.Participants {
			if p == s.UserID {
				continue
			}
			h.emit(ctx, UserRoom(p), "", EventMessageStatusUpdate, MessageStatusEvent{
				ConversationID: conv.ID,
				Status:         store.StatusRead,
				ReadBy:         s.UserID,
			})
		}
	}
	return nil
}

func (h *Hub) leave(s *Session, f Frame) error {
	var in conversationRef
	if err := decode(f, &in); err != nil {
		return err
	}
	if in.ConversationID == "" {
		return apperr.BadRequest("conversationId is required")
	}
	h.registry.LeaveRoom(s.ID, ConversationRoom(in.ConversationID))
	return nil
}

// ---------------------------------------------
// Messages
// ---------------------------------------------

func (h *Hub) send(ctx context.Context, s *Session, f Frame) error {
	var in sendMessageCmd
	if err := decode(f, &in); err != nil {
		return err
	}
	_, err := h.SendMessage(ctx, s.UserID, chat.CreateMessageInput{
		ConversationID: in.ConversationID,
		ReceiverID:     in.ReceiverID,
		Text:           in.OriginalText,
		SourceLang:     in.SourceLang,
		TargetLang:     in.TargetLang,
	})
	return err
}

// SendMessage persists a message and delivers it to every participant,
// rendered in that participant's language. Participants whose language
// differs from the source get a background refinement that may follow up
// with messageTranslationUpdate. A caller that goes away mid-send does not
// cancel delivery.
func (h *Hub) SendMessage(ctx context.Context, senderID string, in chat.CreateMessageInput) (store.Message, error) {
	ctx = context.WithoutCancel(ctx)
	in.SenderID = senderID

	m, err := h.messages.Create(ctx, in)
	if err != nil {
		return store.Message{}, err
	}
	metrics.MessagesSentTotal.Inc()

	conv, err := h.messages.Conversation(ctx, m.ConversationID, senderID)
	if err != nil {
		return store.Message{}, err
	}
	users, err := h.users.GetMany(ctx, conv.Participants)
	if err != nil {
		h.log.Warn("participant lookup failed, using stored target language", "message_id", m.ID, "error", err)
		users = nil
	}

	for _, p := range conv.Participants {
		if p == senderID {
			h.emit(ctx, UserRoom(p), "", EventNewMessage, renderMessage(m, m.OriginalText, m.TargetLang))
			continue
		}

		lang := m.TargetLang
		if u, ok := users[p]; ok && u.PreferredLanguage != "" {
			lang = u.PreferredLanguage
		}
		immediate := h.immediateRendering(ctx, m, p, lang)
		h.emit(ctx, UserRoom(p), "", EventNewMessage, renderMessage(m, immediate, lang))
		if err := h.pushUnreadCounts(ctx, p); err != nil {
			h.log.Warn("unread counts push failed", "user_id", p, "error", err)
		}
		if lang != m.SourceLang {
			h.scheduleRefinement(m, p, lang, immediate)
		}
	}

	// The receiver may have connected between persisting and fanout.
	if m.Status == store.StatusSent && h.registry.IsOnline(m.ReceiverID) {
		if delivered, err := h.messages.MarkAsDelivered(ctx, m.ID); err == nil && delivered.Status == store.StatusDelivered {
			m = delivered
			h.emit(ctx, UserRoom(senderID), "", EventMessageStatusUpdate, MessageStatusEvent{
				MessageID:      m.ID,
				ConversationID: m.ConversationID,
				Status:         m.Status,
			})
		}
	}
	return m, nil
}

// immediateRendering is what participant p sees in newMessage. The stored
// translation already targets the receiver's language under the inline
// deadline and is reused when it matches; a nil one means that attempt
// failed and the original stands until refinement.
func (h *Hub) immediateRendering(ctx context.Context, m store.Message, p, lang string) string {
	if lang == m.SourceLang {
		return m.OriginalText
	}
	if p == m.ReceiverID && lang == m.TargetLang {
		if m.TranslatedText == nil {
			return m.OriginalText
		}
		return *m.TranslatedText
	}
	tctx, cancel := context.WithTimeout(ctx, h.cfg.InlineWait)
	defer cancel()
	return h.translator.Translate(tctx, m.OriginalText, m.SourceLang, lang)
}

func (h *Hub) scheduleRefinement(m store.Message, userID, lang, immediate string) {
	h.refine.Submit(func(base context.Context) {
		ctx, cancel := context.WithTimeout(base, h.cfg.RefineWait)
		defer cancel()

		refined := h.translator.Translate(ctx, m.OriginalText, m.SourceLang, lang)
		// Translate falls back to the original text on failure; never
		// replace a translation with it.
		if refined == immediate || refined == m.OriginalText {
			return
		}
		payload := renderMessage(m, refined, lang)
		payload.IsTranslationUpdate = true
		h.emit(base, UserRoom(userID), "", EventMessageTranslationUpdate, payload)
		metrics.TranslationUpdatesTotal.Inc()
		h.log.Debug("translation refined", "message_id", m.ID, "user_id", userID, "lang", lang)
	})
}

func (h *Hub) typing(ctx context.Context, s *Session, f Frame) error {
	var in typingCmd
	if err := decode(f, &in); err != nil {
		return err
	}
	room := ConversationRoom(in.ConversationID)
	if !h.registry.InRoom(s.ID, room) {
		if _, err := h.messages.Conversation(ctx, in.ConversationID, s.UserID); err != nil {
			return err
		}
	}
	h.emit(ctx, room, s.ID, EventUserTyping, TypingEvent{
		UserID:         s.UserID,
		ConversationID: in.ConversationID,
		IsTyping:       in.IsTyping,
	})
	return nil
}

func (h *Hub) deleteMessage(ctx context.Context, s *Session, f Frame) error {
	var in messageRef
	if err := decode(f, &in); err != nil {
		return err
	}
	if in.MessageID == "" {
		return apperr.BadRequest("messageId is required")
	}
	m, err := h.messages.Delete(ctx, in.MessageID, s.UserID)
	if err != nil {
		return err
	}
	h.emit(ctx, ConversationRoom(m.ConversationID), "", EventMessageDeleted, MessageDeletedEvent{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
	})
	if m.Status != store.StatusRead {
		if err := h.pushUnreadCounts(ctx, m.ReceiverID); err != nil {
			h.log.Warn("unread counts push failed", "user_id", m.ReceiverID, "error", err)
		}
	}
	return nil
}

func (h *Hub) clearConversation(ctx context.Context, s *Session, f Frame) error {
	var in conversationRef
	if err := decode(f, &in); err != nil {
		return err
	}
	if _, err := h.messages.ClearConversation(ctx, in.ConversationID, s.UserID); err != nil {
		return err
	}
	h.emit(ctx, ConversationRoom(in.ConversationID), "", EventConversationCleared, ConversationClearedEvent{
		ConversationID: in.ConversationID,
		ClearedBy:      s.UserID,
	})
	return nil
}

func (h *Hub) markAsRead(ctx context.Context, s *Session, f Frame) error {
	var in messageRef
	if err := decode(f, &in); err != nil {
		return err
	}
	if in.MessageID == "" {
		return apperr.BadRequest("messageId is required")
	}
	m, changed, err := h.messages.MarkAsRead(ctx, in.MessageID, s.UserID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	h.emit(ctx, UserRoom(m.SenderID), "", EventMessageStatusUpdate, MessageStatusEvent{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Status:         m.Status,
		ReadAt:         m.ReadAt,
	})
	return h.pushUnreadCounts(ctx, s.UserID)
}

// ---------------------------------------------
// Queries
// ---------------------------------------------

func (h *Hub) userStatus(s *Session, f Frame) error {
	var in userRef
	if err := decode(f, &in); err != nil {
		return err
	}
	if in.UserID == "" {
		return apperr.BadRequest("userId is required")
	}
	s.Emit(EventUserStatus, UserStatusEvent{UserID: in.UserID, IsOnline: h.registry.IsOnline(in.UserID)})
	return nil
}

func (h *Hub) sendUnreadCounts(ctx context.Context, s *Session) error {
	counts, err := h.messages.UnreadCounts(ctx, s.UserID)
	if err != nil {
		return err
	}
	s.Emit(EventUnreadCounts, nonNil(counts))
	return nil
}

// pushUnreadCounts sends a fresh snapshot to every session of userID.
func (h *Hub) pushUnreadCounts(ctx context.Context, userID string) error {
	counts, err := h.messages.UnreadCounts(ctx, userID)
	if err != nil {
		return err
	}
	h.emit(ctx, UserRoom(userID), "", EventUnreadCounts, nonNil(counts))
	return nil
}

func nonNil(counts map[string]int) map[string]int {
	if counts == nil {
		return map[string]int{}
	}
	return counts
}
