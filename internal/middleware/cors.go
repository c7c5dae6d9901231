package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// corsPreflightMaxAge はブラウザがプリフライト結果をキャッシュする時間。
const corsPreflightMaxAge = 24 * time.Hour

var (
	corsAllowMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}, ", ")
	corsAllowHeaders = strings.Join([]string{"Content-Type", "Authorization"}, ", ")
	// レート制限の状態はクライアントから読めるようにする
	corsExposeHeaders = strings.Join([]string{
		headerRetryAfter, headerRateLimitLimit, headerRateLimitRemaining, headerRateLimitReset,
	}, ", ")
)

// NewCORSMiddleware はフロントエンドのオリジンだけを許可するCORSミドルウェアを返す。
// リクエストのOriginが一致した場合のみ許可ヘッダーを付与し、他のオリジンには何も付与しない。
// credentials送信と共存するため、ワイルドカード(*)は使用しない。
// OPTIONSリクエストはプリフライトとして204で応答し、後続のハンドラには渡さない。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	allowedOrigin = strings.TrimRight(allowedOrigin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" && origin == allowedOrigin {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", corsAllowMethods)
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Max-Age", strconv.Itoa(int(corsPreflightMaxAge.Seconds())))
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
