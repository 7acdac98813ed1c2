package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/minauth/apiserver/internal/logging"
	"github.com/minauth/apiserver/internal/services"
	"github.com/minauth/apiserver/internal/store"
	"github.com/minauth/apiserver/internal/token"
	"github.com/minauth/apiserver/internal/validate"
	"github.com/minauth/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler provides the authentication endpoints: register, login,
// logout, token refresh, and profile retrieval.
type AuthHandler struct {
	userService *services.UserService
	tokens      *token.Service
	log         *logging.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, tokens *token.Service, log *logging.Logger) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		tokens:      tokens,
		log:         log,
	}
}

// AuthRouter registers auth routes on the given router. Login and
// register are public; everything else requires a valid bearer token.
func AuthRouter(r chi.Router, userService *services.UserService, tokens *token.Service, log *logging.Logger) {
	handler := NewAuthHandler(userService, tokens, log)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAuth)
		r.Post("/logout", handler.Logout)
		r.Post("/refresh", handler.Refresh)
		r.Get("/user-profile", handler.Profile)
	})
}

// RequireAuth enforces bearer-token authentication and injects the
// authenticated user ID and the presented token into the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		userID, err := h.tokens.Verify(r.Context(), tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), contextUserIDKey, userID)
		ctx = context.WithValue(ctx, contextTokenKey, tokenString)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Login verifies credentials and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req validate.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if errs := validate.Check(req); errs != nil {
		h.log.Warn(r.Context(), "invalid credentials given for login")
		writeJSON(w, http.StatusBadRequest, errs)
		return
	}

	h.userService.WarmUsersCache(r.Context())

	user, err := h.userService.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Alert(r.Context(), "unregistered email given for login", "email", req.Email)
			writeMessage(w, http.StatusUnauthorized, "we can not find the user with that e-mail address")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.log.Alert(r.Context(), "wrong password given for login", "email", req.Email)
		// 404, not 401, for compatibility with existing clients.
		writeError(w, http.StatusNotFound, "Incorrect Password")
		return
	}

	accessToken, err := h.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	h.log.Info(r.Context(), "user logged in", "email", req.Email)
	writeJSON(w, http.StatusOK, LoginResponse{
		Message:     "Login successfull",
		AccessToken: accessToken,
	})
}

// Register creates a new user account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req validate.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if errs := validate.Check(req); errs != nil {
		h.log.Warn(r.Context(), "invalid details given for register")
		writeJSON(w, http.StatusBadRequest, errs)
		return
	}

	h.userService.WarmUsersCache(r.Context())

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	// No existence pre-check: the unique constraint on email is the
	// single enforcement point, so concurrent registrations cannot race.
	user, err := h.userService.Create(r.Context(), types.User{
		Firstname:    req.Firstname,
		Lastname:     req.Lastname,
		Email:        req.Email,
		PasswordHash: string(hashed),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			h.log.Alert(r.Context(), "existing email given for register", "email", req.Email)
			// 401, not 409, for compatibility with existing clients.
			writeMessage(w, http.StatusUnauthorized, "The email has already been taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.log.Info(r.Context(), "new user registered", "email", req.Email)
	writeJSON(w, http.StatusCreated, RegisterResponse{
		Message: "User successfully registered",
		User:    user,
	})
}

// Logout invalidates the presented token for the rest of its lifetime.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tokenString, err := tokenFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.tokens.Invalidate(r.Context(), tokenString); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}

	userID, _ := userIDFromContext(r.Context())
	h.log.Info(r.Context(), "user logged out", "user_id", userID)
	writeMessage(w, http.StatusOK, "User successfully signed out")
}

// Refresh exchanges the presented token for a new one with a fresh
// expiry. The old token stops being accepted.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	tokenString, err := tokenFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	accessToken, err := h.tokens.Refresh(r.Context(), tokenString)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) ||
			errors.Is(err, token.ErrExpiredToken) ||
			errors.Is(err, token.ErrRevokedToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	userID, _ := userIDFromContext(r.Context())
	h.log.Info(r.Context(), "user refreshed token", "user_id", userID)
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: accessToken})
}

// Profile returns the authenticated user's record. The password hash is
// excluded from the representation.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	h.log.Info(r.Context(), "user fetched profile", "user_id", userID)
	writeJSON(w, http.StatusOK, user)
}

// LoginResponse is the successful login payload.
type LoginResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
}

// RegisterResponse is the successful registration payload.
type RegisterResponse struct {
	Message string     `json:"message"`
	User    types.User `json:"user"`
}

// TokenResponse wraps a newly issued token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	tok := strings.TrimSpace(parts[1])
	if tok == "" {
		return "", errors.New("invalid authorization")
	}
	return tok, nil
}
