package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/artboard/internal/model"
)

const bearerPrefix = "Bearer "

// Authenticator はトークンから認証済みプリンシパルを解決するインターフェース。
// auth.Serviceが実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (model.Principal, error)
}

// AuthedHandlerFunc は認証済みプリンシパルを引数に受け取るハンドラー。
type AuthedHandlerFunc func(w http.ResponseWriter, r *http.Request, principal model.Principal) error

// AuthGate はBearerトークンで保護されたルートの入口。
type AuthGate struct {
	authenticator Authenticator
	responder     *ErrorResponder
}

// NewAuthGate はAuthGateを生成する。
func NewAuthGate(authenticator Authenticator, responder *ErrorResponder) *AuthGate {
	return &AuthGate{authenticator: authenticator, responder: responder}
}

// Protect はAuthorizationヘッダーのトークンを検証してからハンドラーを呼び出す。
// ヘッダーが無い、または形式が不正な場合はハンドラーに到達せず401を返す。
func (g *AuthGate) Protect(h AuthedHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r.Header.Get("Authorization"))
		if !ok {
			g.responder.Respond(w, r, model.NewAuthRequiredError())
			return
		}

		principal, err := g.authenticator.Authenticate(r.Context(), token)
		if err != nil {
			g.responder.Respond(w, r, err)
			return
		}

		ctx := ContextWithUserID(r.Context(), principal.ID)
		if err := h(w, r.WithContext(ctx), principal); err != nil {
			g.responder.Respond(w, r, err)
		}
	})
}

// BearerToken はAuthorizationヘッダーからトークンを取り出す。
// "Bearer "で始まる場合のみ、空白区切りの2番目の要素をトークンとして扱う。
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.Split(header, " ")[1]
	if token == "" {
		return "", false
	}
	return token, true
}
