// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// requestStateContextKey はロギングミドルウェアが用意するリクエスト状態のキー。
var requestStateContextKey = contextKey("request_state")

// requestState は内側のハンドラーから外側のミドルウェアへ値を返すための入れ物。
// 認証ゲートが設定したユーザーIDをリクエストログに含めるために使う。
type requestState struct {
	userID string
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ゲートを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// 外側のロギングミドルウェアが用意したリクエスト状態にも記録する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if st, ok := ctx.Value(requestStateContextKey).(*requestState); ok {
		st.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

func withRequestState(ctx context.Context) (context.Context, *requestState) {
	st := &requestState{}
	return context.WithValue(ctx, requestStateContextKey, st), st
}
