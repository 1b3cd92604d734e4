package http

import (
	"log/slog"
	"net/http"

	"github.com/PaulSamPS/e-commerce-server/internal/auth"
	"github.com/PaulSamPS/e-commerce-server/internal/service"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
	"github.com/PaulSamPS/e-commerce-server/pkg/httputil"
	"github.com/PaulSamPS/e-commerce-server/pkg/validator"
)

// AuthHandler handles HTTP requests for account and login endpoints.
type AuthHandler struct {
	accounts *service.AccountService
	cookies  CookieConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(accounts *service.AccountService, cookies CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, cookies: cookies, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for user registration.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,password,max=72"`
}

// ActivateRequest is the JSON request body for account activation.
type ActivateRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,numeric,len=6"`
}

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

// SendResetCodeRequest is the JSON request body for requesting a reset code.
type SendResetCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the JSON request body for completing a password reset.
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,numeric,len=6"`
	NewPassword string `json:"new_password" validate:"required,password,max=72"`
}

// --- Response types ---

// MessageResponse is returned by endpoints without a resource body.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginResponse carries the logged-in user. Tokens travel only in cookies.
type LoginResponse struct {
	User    any    `json:"user"`
	Message string `json:"message"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	_, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Data: MessageResponse{Message: "registration successful, check your email for the activation code"},
	})
}

// Activate handles POST /api/v1/auth/activate
func (h *AuthHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.accounts.Activate(r.Context(), req.Email, req.Code); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: MessageResponse{Message: "account activated"},
	})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, pair, err := h.accounts.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	setSessionCookies(w, h.cookies, pair)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: LoginResponse{User: user.Principal(), Message: "logged in"},
	})
}

// Logout handles POST /api/v1/auth/logout. Requires the Guard.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	if err := h.accounts.Logout(r.Context(), p.ID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	clearSessionCookies(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// SendResetCode handles POST /api/v1/auth/reset-password/send-code
func (h *AuthHandler) SendResetCode(w http.ResponseWriter, r *http.Request) {
	var req SendResetCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.accounts.SendResetCode(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: MessageResponse{Message: "if the account exists, a reset code has been sent"},
	})
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.accounts.ResetPassword(r.Context(), service.ResetPasswordInput{
		Email:       req.Email,
		Code:        req.Code,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	clearSessionCookies(w, h.cookies)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: MessageResponse{Message: "password changed"},
	})
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !httputil.DecodeJSON(w, r, dst) {
		return false
	}
	if err := validator.Validate(dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}
	return true
}
