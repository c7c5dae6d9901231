package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/artboard/internal/middleware"
	"github.com/hitoshi/artboard/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*model.UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, update model.UserUpdate) (*model.UserProfile, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	// Withdraw はユーザーを物理削除する。
	Withdraw(ctx context.Context, userID string) error
}

// UpdateProfileRequest はPATCH /users/meのリクエストボディ。
// 省略したフィールドは変更しない。
type UpdateProfileRequest struct {
	Name  *string `json:"name" validate:"omitnil,min=2,max=2048"`
	Email *string `json:"email" validate:"omitnil,email,max=255"`
}

// ChangePasswordRequest はPATCH /users/me/passwordのリクエストボディ。
type ChangePasswordRequest struct {
	CurrentPassword *string `json:"currentPassword" validate:"required"`
	NewPassword     string  `json:"newPassword" validate:"required,min=8"`
}

type userResponse struct {
	User *model.UserProfile `json:"user"`
}

// UserHandler はユーザー管理のHTTPハンドラー。
// すべてのメソッドは認証済みプリンシパルを受け取る。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// Me は認証済みユーザーのプロフィールを返す。
// GET /api/{version}/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request, principal model.Principal) error {
	profile, err := h.service.Profile(r.Context(), principal.ID)
	if err != nil {
		return err
	}

	middleware.WriteSuccess(w, http.StatusOK, userResponse{User: profile})
	return nil
}

// UpdateProfile は表示名とメールアドレスを部分更新する。
// PATCH /api/{version}/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request, principal model.Principal) error {
	var req UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	profile, err := h.service.UpdateProfile(r.Context(), principal.ID, model.UserUpdate{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		return err
	}

	middleware.WriteSuccess(w, http.StatusOK, userResponse{User: profile})
	return nil
}

// ChangePassword は現在のパスワードを確認してから新しいパスワードに変更する。
// PATCH /api/{version}/users/me/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request, principal model.Principal) error {
	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	if err := h.service.ChangePassword(r.Context(), principal.ID, *req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}

	middleware.WriteSuccessMessage(w, http.StatusOK, "Password updated successfully")
	return nil
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/{version}/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request, principal model.Principal) error {
	if err := h.service.Withdraw(r.Context(), principal.ID); err != nil {
		return err
	}

	middleware.WriteSuccessMessage(w, http.StatusOK, "Account deleted successfully")
	return nil
}
