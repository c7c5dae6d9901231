// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/artboard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	// 比較は保存値どおり大文字小文字を区別する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。IDが空の場合は採番し、タイムスタンプをDBの値で埋める。
	// メールアドレスが一意制約に違反した場合はmodel.ErrEmailTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はnilでないフィールドのみ更新し、更新後のユーザーを返す。
	// 対象が存在しない場合はmodel.ErrUserNotFound、メールアドレス重複はmodel.ErrEmailTakenを返す。
	Update(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)

	// UpdatePassword はパスワードハッシュを置き換える。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// DeleteByID は指定IDのユーザーを物理削除する。
	DeleteByID(ctx context.Context, id string) error
}
