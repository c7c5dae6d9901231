// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// 永続化層が返すセンチネルエラー
var (
	// ErrEmailTaken はメールアドレスの一意制約違反を表す。
	ErrEmailTaken = errors.New("email already in use")
	// ErrUserNotFound は対象ユーザーが存在しないことを表す。
	ErrUserNotFound = errors.New("user not found")
)

// ErrorKind はAppErrorの種別を表す。
// エラーレスポンスの生成時にこの種別で網羅的に分岐する。
type ErrorKind int

const (
	// KindUnexpected はプログラムやインフラの障害を表す。本番ではメッセージを隠蔽する。
	KindUnexpected ErrorKind = iota
	// KindOperational は想定内の失敗（認証失敗、未検出など）を表す。
	KindOperational
	// KindValidation はリクエスト入力の検証失敗を表す。
	KindValidation
)

// String はログ出力用の種別名を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindOperational:
		return "operational"
	case KindValidation:
		return "validation"
	default:
		return "unexpected"
	}
}

// FieldError は入力検証に失敗したフィールドとその理由。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError はHTTP境界まで伝搬するアプリケーションエラー。
// Kindで3種類の結果を区別する。
type AppError struct {
	Kind       ErrorKind
	Code       string
	StatusCode int
	Message    string
	Fields     []FieldError
	Cause      error
	stack      []uintptr
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Stack は生成時点のスタックトレースを文字列で返す。
func (e *AppError) Stack() string {
	if len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Error())
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "\n    at %s (%s:%d)", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}

func callers() []uintptr {
	pcs := make([]uintptr, 32)
	// runtime.Callers, callers, New*Error の3フレームを飛ばす
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}

// 定義済みエラーコード
const (
	ErrCodeAuthRequired       = "AUTH_REQUIRED"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeUserExists         = "USER_EXISTS"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailInUse         = "EMAIL_IN_USE"
	ErrCodeWrongPassword      = "WRONG_CURRENT_PASSWORD"
	ErrCodeRouteNotFound      = "ROUTE_NOT_FOUND"
	ErrCodeInvalidBody        = "INVALID_BODY"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewOperationalError は想定内の失敗を表すAppErrorを生成する。
func NewOperationalError(statusCode int, code, message string) *AppError {
	return &AppError{
		Kind:       KindOperational,
		Code:       code,
		StatusCode: statusCode,
		Message:    message,
		stack:      callers(),
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(fields []FieldError) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Code:       ErrCodeValidation,
		StatusCode: http.StatusBadRequest,
		Message:    "Validation error",
		Fields:     fields,
		stack:      callers(),
	}
}

// NewUnexpectedError は想定外のエラーをラップする。
func NewUnexpectedError(cause error) *AppError {
	return &AppError{
		Kind:       KindUnexpected,
		Code:       ErrCodeInternal,
		StatusCode: http.StatusInternalServerError,
		Message:    cause.Error(),
		Cause:      cause,
		stack:      callers(),
	}
}

// AsAppError はエラーチェーンからAppErrorを取り出す。
// 見つからない場合は想定外エラーとしてラップする。
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{
		Kind:       KindUnexpected,
		Code:       ErrCodeInternal,
		StatusCode: http.StatusInternalServerError,
		Message:    err.Error(),
		Cause:      err,
	}
}

// NewAuthRequiredError はAuthorizationヘッダーが無い、または不正な場合のエラーを生成する。
func NewAuthRequiredError() *AppError {
	return NewOperationalError(http.StatusUnauthorized, ErrCodeAuthRequired, "Authentication required")
}

// NewInvalidTokenError はトークン検証に失敗した場合のエラーを生成する。
// 期限切れと改ざんを区別しない。
func NewInvalidTokenError() *AppError {
	return NewOperationalError(http.StatusUnauthorized, ErrCodeInvalidToken, "Invalid token")
}

// NewTokenUserNotFoundError はトークンのsubjectに対応するユーザーが存在しない場合のエラーを生成する。
func NewTokenUserNotFoundError() *AppError {
	return NewOperationalError(http.StatusUnauthorized, ErrCodeUserNotFound, "User not found")
}

// NewUserNotFoundError は認証済みユーザーのレコードが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *AppError {
	return NewOperationalError(http.StatusNotFound, ErrCodeUserNotFound, "User not found")
}

// NewUserExistsError は登録済みメールアドレスで登録しようとした場合のエラーを生成する。
func NewUserExistsError() *AppError {
	return NewOperationalError(http.StatusBadRequest, ErrCodeUserExists, "User already exists")
}

// NewInvalidCredentialsError はログイン失敗のエラーを生成する。
// メールアドレス未登録とパスワード誤りで同じエラーを返す。
func NewInvalidCredentialsError() *AppError {
	return NewOperationalError(http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid credentials")
}

// NewEmailInUseError は他ユーザーが使用中のメールアドレスへ変更しようとした場合のエラーを生成する。
func NewEmailInUseError() *AppError {
	return NewOperationalError(http.StatusBadRequest, ErrCodeEmailInUse, "Email already in use")
}

// NewWrongCurrentPasswordError はパスワード変更時に現在のパスワードが一致しない場合のエラーを生成する。
func NewWrongCurrentPasswordError() *AppError {
	return NewOperationalError(http.StatusUnauthorized, ErrCodeWrongPassword, "Current password is incorrect")
}

// NewRouteNotFoundError は存在しないルートへのリクエストのエラーを生成する。
func NewRouteNotFoundError(path string) *AppError {
	return NewOperationalError(http.StatusNotFound, ErrCodeRouteNotFound, fmt.Sprintf("Route %s not found", path))
}

// NewInvalidBodyError はリクエストボディがJSONとして解釈できない場合のエラーを生成する。
func NewInvalidBodyError() *AppError {
	return NewOperationalError(http.StatusBadRequest, ErrCodeInvalidBody, "Invalid JSON body")
}
