package chat

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"lingochat/internal/apperr"
	"lingochat/internal/httpx"
	myMiddleware "lingochat/internal/middleware"
	"lingochat/internal/store"
)

// MessageSender persists and fans out a message. The realtime hub implements
// it so HTTP sends reach live sessions the same way socket sends do.
type MessageSender interface {
	SendMessage(ctx context.Context, senderID string, in CreateMessageInput) (store.Message, error)
}

type Handler struct {
	messages      *MessageService
	conversations *ConversationService
	sender        MessageSender
	log           *slog.Logger
}

func NewHandler(messages *MessageService, conversations *ConversationService, sender MessageSender, log *slog.Logger) *Handler {
	return &Handler{messages: messages, conversations: conversations, sender: sender, log: log}
}

// Routes mounts the /conversations endpoints. They expect the auth middleware upstream.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/unread", h.Unread)
	r.Get("/{id}/messages", h.Messages)
	r.Post("/{id}/messages", h.Send)
	r.Post("/{id}/read", h.MarkRead)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := myMiddleware.UserIDFrom(r.Context())
	if !ok {
		httpx.WriteError(w, h.log, apperr.ErrUnauthorized)
	}
	return id, ok
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	convs, err := h.conversations.ListForUser(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, convs)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req createConversationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	conv, created, err := h.conversations.FindOrCreate(r.Context(), userID, req.UserID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, conv)
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	counts, err := h.messages.UnreadCounts(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, counts)
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	in := ListMessagesInput{
		ConversationID: chi.URLParam(r, "id"),
		UserID:         userID,
		TargetLang:     q.Get("targetLang"),
	}
	if raw := q.Get("cursor"); raw != "" {
		cursor, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			httpx.WriteError(w, h.log, apperr.BadRequest("cursor must be an RFC 3339 timestamp"))
			return
		}
		in.Before = &cursor
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.WriteError(w, h.log, apperr.BadRequest("limit must be a positive integer"))
			return
		}
		in.Limit = limit
	}

	page, err := h.messages.FindByConversationID(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	m, err := h.sender.SendMessage(r.Context(), userID, CreateMessageInput{
		ConversationID: chi.URLParam(r, "id"),
		ReceiverID:     req.ReceiverID,
		Text:           req.OriginalText,
		SourceLang:     req.SourceLang,
		TargetLang:     req.TargetLang,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, m)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	n, err := h.messages.MarkConversationRead(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
