package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// sessionDuration is how long a login session stays valid.
	sessionDuration = 7 * 24 * time.Hour

	// authCookieName is the session cookie set on login.
	authCookieName = "forage_session"

	minPasswordLength = 8
)

// RegisterRequest is the JSON body for POST /api/auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public user data returned by the auth routes.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionResponse is the JSON response for login and register.
type SessionResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

// handleRegister creates an operator account and logs it in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "auth store not configured")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "HASH_ERROR", "failed to hash password")
		return
	}

	now := time.Now().UTC()
	user := UserRecord{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         req.Name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.auth.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, ErrUserExists) {
			writeError(w, http.StatusConflict, "USER_EXISTS", "a user with this email already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	token, err := s.startSession(w, r, user.ID, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{
		User:  userResponse(user),
		Token: token,
	})
}

// handleLogin authenticates a user and opens a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "auth store not configured")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required")
		return
	}

	user, ok, err := s.auth.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}

	now := time.Now().UTC()
	token, err := s.startSession(w, r, user.ID, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_ERROR", err.Error())
		return
	}

	// Logins are a convenient moment to drop stale sessions.
	if err := s.auth.CleanExpiredSessions(r.Context()); err != nil {
		s.logger.Warn("cleaning expired sessions", "error", err)
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		User:  userResponse(user),
		Token: token,
	})
}

// handleLogout closes the current session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "auth store not configured")
		return
	}

	if token := sessionToken(r); token != "" {
		sess, ok, err := s.auth.GetSessionByToken(r.Context(), token)
		if err != nil && !errors.Is(err, ErrSessionExpired) {
			s.logger.Warn("logout session lookup failed", "error", err)
		}
		if ok {
			if err := s.auth.DeleteSession(r.Context(), sess.ID); err != nil {
				s.logger.Warn("logout session delete failed", "error", err)
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the user behind the current session.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "auth store not configured")
		return
	}

	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	user, ok, err := s.auth.GetUserByID(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user not found")
		return
	}

	writeJSON(w, http.StatusOK, userResponse(user))
}

// requireSession gates a handler behind a valid session. A server built
// without an auth store leaves its routes open.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next(w, r)
			return
		}
		if _, ok := s.authenticate(w, r); !ok {
			return
		}
		next(w, r)
	}
}

// authenticate resolves the request's session, writing the 401 itself
// when there is none.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (SessionRecord, bool) {
	token := sessionToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "a session token is required")
		return SessionRecord{}, false
	}

	sess, ok, err := s.auth.GetSessionByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			writeError(w, http.StatusUnauthorized, "SESSION_EXPIRED", "session has expired")
			return SessionRecord{}, false
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return SessionRecord{}, false
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid session token")
		return SessionRecord{}, false
	}
	return sess, true
}

// startSession creates a session for the user and sets its cookie.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, userID string, now time.Time) (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}

	sess := SessionRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: now.Add(sessionDuration),
		CreatedAt: now,
	}
	if err := s.auth.CreateSession(r.Context(), sess); err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// sessionToken extracts the session token from the Authorization
// header, falling back to the cookie.
func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func newSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func userResponse(user UserRecord) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
	}
}
