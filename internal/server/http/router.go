// Package httpserver exposes the marketplace messaging REST API.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/donewithit/server/internal/errs"
	"github.com/donewithit/server/internal/model"
	"github.com/donewithit/server/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	auth     service.AuthService
	messages service.MessageService
	live     http.Handler
	logger   *zap.Logger
}

// New constructs an HTTP server with injected services. live handles the
// WebSocket upgrade endpoint.
func New(auth service.AuthService, messages service.MessageService, live http.Handler, logger *zap.Logger) *Server {
	return &Server{auth: auth, messages: messages, live: live, logger: logger}
}

// Routes assembles the router with middleware and all endpoints.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Recover(s.logger))
	r.Use(RequestLogger(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/login", s.handleLogin)
	r.Handle("/ws", s.live)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/api/logout", s.handleLogout)
		r.Put("/api/push-token", s.handlePushToken)
		r.Post("/api/messages", s.handleSendMessage)
		r.Get("/api/conversations/{userID}", s.handleConversation)
	})

	return r
}

// requireSession resolves the Authorization bearer reference and stores the
// user id in the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || ref == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.auth.Identify(ref)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := s.auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Name: u.Name, Email: u.Email})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ref, u, err := s.auth.Login(r.Context(), req.Email, req.Password, r.RemoteAddr)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: ref,
		User:  userResponse{ID: u.ID, Name: u.Name, Email: u.Email},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ref, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.auth.Logout(ref)
	w.WriteHeader(http.StatusNoContent)
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req pushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.auth.SetPushToken(r.Context(), userID, req.Token); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Body        string    `json:"body"`
}

type sendMessageResponse struct {
	MessageID    uuid.UUID          `json:"message_id"`
	DeliveryPath model.DeliveryPath `json:"delivery_path"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := s.messages.Send(r.Context(), userID, req.RecipientID, req.Body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sendMessageResponse{
		MessageID:    msg.ID,
		DeliveryPath: msg.DeliveryPath,
	})
}

type conversationMessage struct {
	ID        uuid.UUID `json:"id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	otherID, err := uuid.FromString(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := s.messages.Conversation(r.Context(), userID, otherID, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]conversationMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, conversationMessage{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeServiceError maps service sentinels onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, code, "internal")
		return
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrWeakCredential), errors.Is(err, errs.ErrCorruptDigest):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case strings.HasPrefix(err.Error(), "validation:"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
