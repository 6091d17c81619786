package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kmulambia/qgen-engine/internal/service"
	"github.com/kmulambia/qgen-engine/internal/util"
)

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Response is the standard API envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func successResponse(data any, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

// RegisterRoutes mounts the auth endpoints. change-password requires a valid
// session; everything else is public.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/self-register", h.SelfRegister)
		r.Post("/request-otp", h.RequestOTP)
		r.Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.auth))
			r.Post("/change-password", h.ChangePassword)
		})
	})
}

type loginRequest struct {
	Email       string     `json:"email"`
	Password    string     `json:"password"`
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      uuid.UUID `json:"user_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	RoleID      uuid.UUID `json:"role_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Permissions []string  `json:"permissions"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("email and password are required"), "Invalid request body")
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password, req.WorkspaceID, clientIP(r), r.UserAgent())
	if err != nil {
		respondWithError(w, statusForErr(err), err, "Invalid email or password")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(loginResponse{
		Token:       result.Token.JWT,
		TokenType:   result.Token.TokenType,
		ExpiresAt:   result.Token.ExpiresAt,
		UserID:      result.User.ID,
		FirstName:   result.User.FirstName,
		LastName:    result.User.LastName,
		Email:       result.User.Email,
		RoleID:      result.RoleID,
		WorkspaceID: result.WorkspaceID,
		Permissions: result.Permissions,
	}, "Login successful"))
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (h *AuthHandler) SelfRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" || req.FirstName == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("first_name, email and password are required"), "Invalid request body")
		return
	}

	user, err := h.auth.Register(r.Context(), service.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
		Password:  req.Password,
	}, clientIP(r), r.UserAgent())
	if err != nil {
		respondWithError(w, statusForErr(err), err, "Registration failed")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(user, "Registration successful"))
	util.Info("user registered", zap.String("user_id", user.ID.String()))
}

type changePasswordRequest struct {
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	NewPassword string     `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, service.ErrInvalidToken, "Authentication required")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.NewPassword == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("new_password is required"), "Invalid request body")
		return
	}

	target := claims.UserID
	if req.UserID != nil {
		target = *req.UserID
	}

	if err := h.auth.ChangePassword(r.Context(), claims.UserID, target, req.NewPassword); err != nil {
		respondWithError(w, statusForErr(err), err, "Password change failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Password changed"))
}

type requestOTPRequest struct {
	Email   string `json:"email"`
	OTPType string `json:"otp_type,omitempty"`
}

func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("email is required"), "Invalid request body")
		return
	}
	if req.OTPType == "" {
		req.OTPType = "password-reset"
	}

	if err := h.auth.RequestOTP(r.Context(), req.Email, req.OTPType, clientIP(r), r.UserAgent()); err != nil {
		respondWithError(w, statusForErr(err), err, "Code request failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Verification code sent"))
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" || req.Code == "" || req.NewPassword == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("email, code and new_password are required"), "Invalid request body")
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword, clientIP(r), r.UserAgent()); err != nil {
		respondWithError(w, statusForErr(err), err, "Invalid verification code")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Password reset"))
}

// statusForErr maps domain error kinds to HTTP statuses.
func statusForErr(err error) int {
	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidOTP),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenNotFound),
		errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUserNotActive):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrActiveOTPExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("failed to encode response", zap.Error(err))
	}
}

// respondWithError keeps client-facing messages generic. 401 and 403 always
// carry the generic message so a caller cannot tell an unknown account from a
// wrong password; infrastructure faults are logged and masked.
func respondWithError(w http.ResponseWriter, status int, err error, message string) {
	detail := message
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		detail = message
	case status >= http.StatusInternalServerError:
		util.Error("request failed", zap.Error(err))
		detail = "internal error"
	case service.IsDomainError(err) || status == http.StatusBadRequest:
		detail = err.Error()
	}
	respondWithJSON(w, status, Response{Success: false, Error: detail, Message: message})
}
