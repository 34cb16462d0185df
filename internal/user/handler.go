package user

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lingochat/internal/apperr"
	"lingochat/internal/httpx"
	myMiddleware "lingochat/internal/middleware"
	"lingochat/internal/translation"
)

type Handler struct {
	Service *Service
	log     *slog.Logger
}

func NewHandler(s *Service, log *slog.Logger) *Handler {
	return &Handler{Service: s, log: log}
}

// Routes mounts the /users endpoints. They expect the auth middleware upstream.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/me", h.Me)
	r.Patch("/me", h.UpdateMe)
	r.Get("/search", h.Search)
	r.Get("/languages", h.Languages)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserIDFrom(r.Context())
	if !ok {
		httpx.WriteError(w, h.log, apperr.ErrUnauthorized)
		return
	}

	u, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserIDFrom(r.Context())
	if !ok {
		httpx.WriteError(w, h.log, apperr.ErrUnauthorized)
		return
	}

	var req UpdateProfileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	u, err := h.Service.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserIDFrom(r.Context())
	if !ok {
		httpx.WriteError(w, h.log, apperr.ErrUnauthorized)
		return
	}

	users, err := h.Service.SearchUsers(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) Languages(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, translation.SupportedLanguages())
}
