// Package auth はパスワード認証とセッショントークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/artboard/internal/model"
	"github.com/hitoshi/artboard/internal/repository"
)

// 認証イベント名
const (
	EventRegister      = "register"
	EventLogin         = "login"
	EventResetPassword = "reset_password"
	EventAuthenticate  = "authenticate"
)

// 表示名の文字数制限。usersテーブルのVARCHAR(255)に合わせる。
const (
	MinRegisterNameLength = 1
	MinProfileNameLength  = 2
	MaxNameLength         = 255
)

// 認証イベントの結果
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// NameSanitizer は表示名からHTMLを除去するインターフェース。
type NameSanitizer interface {
	SanitizeName(name string) string
}

// EventRecorder は認証イベントを記録するインターフェース。
type EventRecorder interface {
	RecordAuthEvent(event, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(string, string) {}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Email    string
	Password string
	Name     *string
}

// Result は登録・ログイン成功時に返すユーザー情報とトークン。
type Result struct {
	User  model.UserProfile `json:"user"`
	Token string            `json:"token"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	tokens    *TokenManager
	sanitizer NameSanitizer
	events    EventRecorder

	// dummyHash は未登録メールアドレスでのログイン時にも照合コストを揃えるためのハッシュ。
	dummyHash string
}

// NewService はServiceを生成する。eventsがnilの場合は記録しない。
func NewService(
	users repository.UserRepository,
	hasher PasswordHasher,
	tokens *TokenManager,
	sanitizer NameSanitizer,
	events EventRecorder,
) *Service {
	if events == nil {
		events = nopRecorder{}
	}
	dummy, err := hasher.Hash("artboard-dummy-password")
	if err != nil {
		slog.Warn("failed to prepare dummy password hash", slog.String("error", err.Error()))
	}
	return &Service{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		sanitizer: sanitizer,
		events:    events,
		dummyHash: dummy,
	}
}

// Register はユーザーを登録し、トークンを発行する。
// 登録済みのメールアドレスの場合は一意制約の競合も含めて同じエラーを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	name, err := CleanName(s.sanitizer, in.Name, MinRegisterNameLength)
	if err != nil {
		s.events.RecordAuthEvent(EventRegister, OutcomeFailure)
		return nil, err
	}

	existing, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		s.events.RecordAuthEvent(EventRegister, OutcomeFailure)
		return nil, model.NewUserExistsError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if IsPasswordTooLong(err) {
		s.events.RecordAuthEvent(EventRegister, OutcomeFailure)
		return nil, model.NewValidationError([]model.FieldError{
			{Field: "password", Message: "Password must be at most 72 bytes"},
		})
	}
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:        in.Email,
		PasswordHash: hash,
		Name:         name,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			s.events.RecordAuthEvent(EventRegister, OutcomeFailure)
			return nil, model.NewUserExistsError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	s.events.RecordAuthEvent(EventRegister, OutcomeSuccess)

	return &Result{User: user.Profile(), Token: token}, nil
}

// Login はメールアドレスとパスワードを照合し、トークンを発行する。
// 未登録とパスワード誤りは同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		s.hasher.Compare(s.dummyHash, password)
		s.events.RecordAuthEvent(EventLogin, OutcomeFailure)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		s.events.RecordAuthEvent(EventLogin, OutcomeFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	s.events.RecordAuthEvent(EventLogin, OutcomeSuccess)

	return &Result{User: user.Profile(), Token: token}, nil
}

// RequestPasswordReset はパスワードリセットを受け付ける。
// 登録有無を呼び出し元に漏らさないため、ストア障害以外は常に成功する。
// リセットリンクの送信は行わず、登録済みユーザーの場合のみログに記録する。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}

	if user != nil {
		slog.Info("password reset requested", slog.String("user_id", user.ID))
	}
	s.events.RecordAuthEvent(EventResetPassword, OutcomeSuccess)
	return nil
}

// Authenticate はトークンを検証し、subjectに対応するユーザーのプリンシパルを返す。
// 検証失敗は"Invalid token"、ユーザー不在は"User not found"の401エラーになる。
func (s *Service) Authenticate(ctx context.Context, token string) (model.Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		s.events.RecordAuthEvent(EventAuthenticate, OutcomeFailure)
		return model.Principal{}, model.NewInvalidTokenError()
	}
	// ユーザーIDはUUIDのみ。それ以外のsubjectはDBに問い合わせずに拒否する
	if _, err := uuid.Parse(claims.UserID()); err != nil {
		s.events.RecordAuthEvent(EventAuthenticate, OutcomeFailure)
		return model.Principal{}, model.NewInvalidTokenError()
	}

	user, err := s.users.FindByID(ctx, claims.UserID())
	if err != nil {
		return model.Principal{}, fmt.Errorf("failed to resolve token subject: %w", err)
	}
	if user == nil {
		s.events.RecordAuthEvent(EventAuthenticate, OutcomeFailure)
		return model.Principal{}, model.NewTokenUserNotFoundError()
	}

	s.events.RecordAuthEvent(EventAuthenticate, OutcomeSuccess)
	return user.Principal(), nil
}

// CleanName はsanitizerで表示名からHTMLを除去する。nilはそのまま返す。
// 除去後の文字数がminLen未満またはMaxNameLengthを超える場合は検証エラーを返す。
func CleanName(sanitizer NameSanitizer, name *string, minLen int) (*string, error) {
	if name == nil {
		return nil, nil
	}
	cleaned := *name
	if sanitizer != nil {
		cleaned = sanitizer.SanitizeName(cleaned)
	}

	var msg string
	switch n := utf8.RuneCountInString(cleaned); {
	case n == 0 && minLen <= 1:
		msg = "Name must not be empty"
	case n < minLen:
		msg = fmt.Sprintf("Name must be at least %d characters", minLen)
	case n > MaxNameLength:
		msg = fmt.Sprintf("Name must be at most %d characters", MaxNameLength)
	default:
		return &cleaned, nil
	}
	return nil, model.NewValidationError([]model.FieldError{{Field: "name", Message: msg}})
}
