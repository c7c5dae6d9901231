package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashは永続化層とパスワード検証でのみ使用し、外部へは出力しない。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserProfile はAPIレスポンスとして返すユーザー情報。
// パスワードハッシュを含まない。
type UserProfile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Profile はUserから外部公開用のUserProfileを生成する。
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Principal は認証済みリクエストに紐づくユーザーの最小限の情報。
// リクエスト処理中のみ存在し、永続化されない。
type Principal struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name"`
}

// Principal はUserから認証済みプリンシパルを生成する。
func (u *User) Principal() Principal {
	return Principal{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
	}
}

// UserUpdate はプロフィール更新の差分を表す。
// nilのフィールドは更新しない。
type UserUpdate struct {
	Name  *string
	Email *string
}
