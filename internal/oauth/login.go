package oauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/teemow/eventrelay/internal/logging"
)

// SessionCreator creates a relay session owning cred and returns the values
// the client needs to open its WebSocket.
type SessionCreator interface {
	CreateSession(ctx context.Context, cred *Credential) (sessionID, sessionSecret string, err error)
}

// SessionCreatorFunc adapts a function to SessionCreator.
type SessionCreatorFunc func(ctx context.Context, cred *Credential) (string, string, error)

// CreateSession calls f.
func (f SessionCreatorFunc) CreateSession(ctx context.Context, cred *Credential) (string, string, error) {
	return f(ctx, cred)
}

// SessionResponse is returned to the client after a successful login.
type SessionResponse struct {
	SessionID     string `json:"sessionId"`
	SessionSecret string `json:"sessionSecret"`
}

// ErrorResponse is the JSON body of a failed login step.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// LoginHandler serves the browser side of the Twitch authorization code flow.
type LoginHandler struct {
	source      *Source
	states      *StateStore
	sessions    SessionCreator
	frontendURL string
	logger      *slog.Logger
}

// NewLoginHandler creates a LoginHandler. When frontendURL is empty the
// session is returned as JSON instead of a redirect.
func NewLoginHandler(source *Source, states *StateStore, sessions SessionCreator, frontendURL string, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{
		source:      source,
		states:      states,
		sessions:    sessions,
		frontendURL: frontendURL,
		logger:      logging.WithComponent(logger, "login"),
	}
}

// ServeLogin redirects the browser to the Twitch authorize page.
func (h *LoginHandler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.writeError(w, "invalid_request", "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := h.states.Issue(r.Context())
	if err != nil {
		h.logger.Error("failed to issue login state", logging.Err(err))
		h.writeError(w, "server_error", "failed to start login", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.source.AuthCodeURL(state), http.StatusFound)
}

// ServeAuthorize completes the code exchange and creates a session.
func (h *LoginHandler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.writeError(w, "invalid_request", "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	query := r.URL.Query()

	if twitchErr := query.Get("error"); twitchErr != "" {
		h.logger.Warn("authorization denied",
			"error", twitchErr,
			"description", logging.Truncate(query.Get("error_description"), 200))
		h.writeError(w, "access_denied", twitchErr, http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.writeError(w, "invalid_request", "missing code", http.StatusBadRequest)
		return
	}

	ok, err := h.states.Consume(ctx, query.Get("state"))
	if err != nil {
		h.logger.Error("failed to check login state", logging.Err(err))
		h.writeError(w, "server_error", "failed to verify state", http.StatusInternalServerError)
		return
	}
	if !ok {
		h.writeError(w, "invalid_request", "unknown or expired state", http.StatusBadRequest)
		return
	}

	cred, err := h.source.Acquire(ctx, code)
	if err != nil {
		h.writeError(w, "server_error", "token exchange failed", http.StatusBadGateway)
		return
	}

	sessionID, secret, err := h.sessions.CreateSession(ctx, cred)
	if err != nil {
		h.logger.Error("failed to create session", logging.Err(err))
		h.writeError(w, "server_error", "failed to create session", http.StatusInternalServerError)
		return
	}

	h.logger.Info("login completed", logging.Session(sessionID))

	if h.frontendURL != "" {
		// The fragment keeps the secret out of server access logs.
		fragment := url.Values{}
		fragment.Set("sessionId", sessionID)
		fragment.Set("sessionSecret", secret)
		http.Redirect(w, r, h.frontendURL+"#"+fragment.Encode(), http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(SessionResponse{SessionID: sessionID, SessionSecret: secret}); err != nil {
		h.logger.Error("failed to encode session response", logging.Err(err))
	}
}

func (h *LoginHandler) writeError(w http.ResponseWriter, code, description string, status int) {
	h.logger.Debug("login error", "code", code, "description", description, "status", status)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}
