package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitMessage は制限超過時のレスポンスメッセージ。
const rateLimitMessage = "Too many requests, please try again later."

const (
	headerRateLimitLimit     = "RateLimit-Limit"
	headerRateLimitRemaining = "RateLimit-Remaining"
	headerRateLimitReset     = "RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	Window          time.Duration // 固定ウィンドウの長さ
	MaxRequests     int           // ウィンドウあたりの最大リクエスト数
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
	OnReject        func()        // 制限超過時に呼ばれる。nil可
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 15分あたり100リクエスト。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Window:          15 * time.Minute,
		MaxRequests:     100,
		CleanupInterval: 5 * time.Minute,
	}
}

// windowLimiter はクライアントごとの現在のウィンドウを保持する。
// limiterは補充レート0で生成するため、バースト分を使い切るまでのカウンターとして働く。
type windowLimiter struct {
	limiter *rate.Limiter
	resetAt time.Time
}

// RateLimiter はクライアントIPごとの固定ウィンドウレート制限を管理する。
type RateLimiter struct {
	config RateLimiterConfig
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*windowLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = config.Window
	}
	rl := &RateLimiter{
		config:  config,
		now:     time.Now,
		clients: make(map[string]*windowLimiter),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware はすべてのルートの手前に置くレート制限ミドルウェアを返す。
// クライアントの識別にはRemoteAddrを使うため、chiのRealIPの後に配置する。
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			allowed, remaining, resetAt := rl.take(key)
			now := rl.now()
			resetSec := secondsUntil(now, resetAt)

			w.Header().Set(headerRateLimitLimit, strconv.Itoa(rl.config.MaxRequests))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(remaining))
			w.Header().Set(headerRateLimitReset, strconv.Itoa(resetSec))

			if !allowed {
				if rl.config.OnReject != nil {
					rl.config.OnReject()
				}
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set(headerRetryAfter, strconv.Itoa(resetSec))
				WriteJSON(w, http.StatusTooManyRequests, Envelope{
					Status:  StatusError,
					Message: rateLimitMessage,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientCount は現在管理されているクライアントのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// take はクライアントのウィンドウから1リクエスト分を消費する。
// ウィンドウが終了していれば新しいウィンドウを開始する。
func (rl *RateLimiter) take(key string) (allowed bool, remaining int, resetAt time.Time) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	wl, exists := rl.clients[key]
	if !exists || !now.Before(wl.resetAt) {
		wl = &windowLimiter{
			limiter: rate.NewLimiter(0, rl.config.MaxRequests),
			resetAt: now.Add(rl.config.Window),
		}
		rl.clients[key] = wl
	}

	allowed = wl.limiter.AllowN(now, 1)
	remaining = int(math.Floor(wl.limiter.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, wl.resetAt
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup はウィンドウが終了したエントリを削除する。
func (rl *RateLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, wl := range rl.clients {
		if !now.Before(wl.resetAt) {
			delete(rl.clients, key)
		}
	}
}

// clientKey はリクエスト元のIPアドレスを返す。
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func secondsUntil(now, t time.Time) int {
	sec := int(math.Ceil(t.Sub(now).Seconds()))
	if sec < 1 {
		sec = 1
	}
	return sec
}
