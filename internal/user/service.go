// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/artboard/internal/auth"
	"github.com/hitoshi/artboard/internal/model"
	"github.com/hitoshi/artboard/internal/repository"
)

// Service はユーザー管理のサービス層。
// プロフィールの参照・更新、パスワード変更、退会を提供する。
type Service struct {
	userRepo  repository.UserRepository
	hasher    auth.PasswordHasher
	sanitizer auth.NameSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	hasher auth.PasswordHasher,
	sanitizer auth.NameSanitizer,
) *Service {
	return &Service{
		userRepo:  userRepo,
		hasher:    hasher,
		sanitizer: sanitizer,
	}
}

// Profile は認証済みユーザーのプロフィールを返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	profile := user.Profile()
	return &profile, nil
}

// UpdateProfile は表示名とメールアドレスを部分更新する。
// メールアドレスを変更する場合は他ユーザーが使用していないことを確認する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, update model.UserUpdate) (*model.UserProfile, error) {
	name, err := auth.CleanName(s.sanitizer, update.Name, auth.MinProfileNameLength)
	if err != nil {
		return nil, err
	}
	update.Name = name

	if update.Email != nil {
		owner, err := s.userRepo.FindByEmail(ctx, *update.Email)
		if err != nil {
			return nil, fmt.Errorf("メールアドレスの確認に失敗しました: %w", err)
		}
		if owner != nil && owner.ID != userID {
			return nil, model.NewEmailInUseError()
		}
	}

	user, err := s.userRepo.Update(ctx, userID, update)
	switch {
	case errors.Is(err, model.ErrEmailTaken):
		return nil, model.NewEmailInUseError()
	case errors.Is(err, model.ErrUserNotFound):
		return nil, model.NewUserNotFoundError()
	case err != nil:
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました",
		slog.String("user_id", userID),
		slog.Bool("email_changed", update.Email != nil),
	)

	profile := user.Profile()
	return &profile, nil
}

// ChangePassword は現在のパスワードを再確認してから新しいパスワードに置き換える。
// 現在のパスワードが一致しない場合は保存済みハッシュを変更しない。
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if !s.hasher.Compare(user.PasswordHash, currentPassword) {
		return model.NewWrongCurrentPasswordError()
	}

	hash, err := s.hasher.Hash(newPassword)
	if auth.IsPasswordTooLong(err) {
		return model.NewValidationError([]model.FieldError{
			{Field: "newPassword", Message: "Password must be at most 72 bytes"},
		})
	}
	if err != nil {
		return err
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}

	slog.Info("パスワードを変更しました", slog.String("user_id", userID))
	return nil
}

// Withdraw はユーザーを物理削除する。
// 発行済みトークンはsubjectが解決できなくなるため以降の認証で拒否される。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました", slog.String("user_id", userID))
	return nil
}
