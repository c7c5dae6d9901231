// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/artboard/internal/auth"
	"github.com/hitoshi/artboard/internal/middleware"
)

// resetRequestedMessage は登録有無にかかわらず返すパスワードリセットの応答文言。
const resetRequestedMessage = "If your email is registered, you will receive a reset link"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Result, error)
	Login(ctx context.Context, email, password string) (*auth.Result, error)
	RequestPasswordReset(ctx context.Context, email string) error
}

// RegisterRequest はPOST /auth/registerのリクエストボディ。
type RegisterRequest struct {
	Email    string  `json:"email" validate:"required,email,max=255"`
	Password string  `json:"password" validate:"required,min=8"`
	Name     *string `json:"name" validate:"omitnil,max=2048"`
}

// LoginRequest はPOST /auth/loginのリクエストボディ。
// パスワードは空文字列も受け付け、照合で失敗させる。
type LoginRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password *string `json:"password" validate:"required"`
}

// ResetPasswordRequest はPOST /auth/reset-passwordのリクエストボディ。
type ResetPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// AuthHandler は登録・ログイン・パスワードリセットのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// Register はユーザーを登録してトークンを返す。
// POST /api/{version}/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		return err
	}

	middleware.WriteSuccess(w, http.StatusCreated, result)
	return nil
}

// Login はメールアドレスとパスワードで認証してトークンを返す。
// POST /api/{version}/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	result, err := h.service.Login(r.Context(), req.Email, *req.Password)
	if err != nil {
		return err
	}

	middleware.WriteSuccess(w, http.StatusOK, result)
	return nil
}

// ResetPassword はパスワードリセットを受け付ける。
// 登録の有無によらず同じ応答を返す。
// POST /api/{version}/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) error {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		return err
	}

	middleware.WriteSuccessMessage(w, http.StatusOK, resetRequestedMessage)
	return nil
}
