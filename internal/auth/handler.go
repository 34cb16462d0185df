package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lingochat/internal/httpx"
)

type Handler struct {
	service *Service
	log     *slog.Logger
}

func NewHandler(s *Service, log *slog.Logger) *Handler {
	return &Handler{service: s, log: log}
}

// Routes mounts the /auth endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/verify-otp", h.VerifyOtp)
}

type registerRequest struct {
	Mobile            string `json:"mobile"`
	Name              string `json:"name"`
	PreferredLanguage string `json:"preferredLanguage"`
}

type loginRequest struct {
	Mobile string `json:"mobile"`
}

type verifyRequest struct {
	Mobile string `json:"mobile"`
	Otp    string `json:"otp"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	res, err := h.service.Register(r.Context(), req.Mobile, req.Name, req.PreferredLanguage)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	res, err := h.service.Login(r.Context(), req.Mobile)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	res, err := h.service.VerifyOtp(r.Context(), req.Mobile, req.Otp)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
