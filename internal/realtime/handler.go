package realtime

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"lingochat/internal/httpx"
	myMiddleware "lingochat/internal/middleware"
)

type Handler struct {
	hub      *Hub
	otp      *OTPGateway
	tokens   myMiddleware.TokenValidator
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler builds the websocket endpoints. allowedOrigins may contain "*".
func NewHandler(hub *Hub, otp *OTPGateway, tokens myMiddleware.TokenValidator, allowedOrigins []string, log *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		otp:    otp,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// ServeChat authenticates the handshake, then upgrades and attaches the
// session to the hub. Invalid tokens never reach the upgrade.
func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.Validate(r.Context(), myMiddleware.TokenFromRequest(r))
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := NewSession(userID)
	h.hub.Connect(s)
	client := newClient(conn, s, h.hub, h.log)

	go client.writePump()
	go client.readPump()
}

func (h *Handler) ServeOTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := NewSession("")
	h.otp.Connect(s)
	client := newClient(conn, s, h.otp, h.log)

	go client.writePump()
	go client.readPump()
}
