// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"
)

// 実行環境
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// minJWTSecretLength はJWT署名鍵の最小バイト長。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Application
	Env        string `env:"APP_ENV" envDefault:"development"`
	APIVersion string `env:"API_VERSION" envDefault:"v1"`
	Port       string `env:"PORT" envDefault:"3000"`

	// Database
	DatabaseURL     string `env:"DATABASE_URL,required,notEmpty"`
	TestDatabaseURL string `env:"TEST_DATABASE_URL"`

	// Authentication
	JWTSecret       string `env:"JWT_SECRET,required,notEmpty"`
	JWTExpiresInRaw string `env:"JWT_EXPIRES_IN" envDefault:"7d"`
	BcryptCost      int    `env:"BCRYPT_COST" envDefault:"10"`

	// Rate Limit
	RateLimitWindowMS    int64 `env:"RATE_LIMIT_WINDOW_MS" envDefault:"900000"`
	RateLimitMaxRequests int   `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"100"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// CORS
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`

	// JWTExpiresIn はJWTExpiresInRawをパースした有効期間。
	JWTExpiresIn time.Duration
}

// RateLimitWindow はレート制限の固定ウィンドウ長を返す。
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// VendorConfig は画像生成APIクライアントの設定を保持する。
// imageサブコマンドでのみ読み込む。
type VendorConfig struct {
	APIToken   string        `env:"RECRAFT_API_TOKEN,required,notEmpty"`
	BaseURL    string        `env:"RECRAFT_BASE_URL" envDefault:"https://external.api.recraft.ai/v1"`
	Timeout    time.Duration `env:"RECRAFT_TIMEOUT" envDefault:"0s"`
	GalleryDir string        `env:"GALLERY_DIR" envDefault:"./gallery"`

	// PushgatewayURL が設定されている場合、呼び出し後にメトリクスを送信する。
	PushgatewayURL string `env:"PUSHGATEWAY_URL"`
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 必須環境変数の欠落や不正値はここでエラーにし、起動を中断させる。
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadVendor は画像生成APIクライアントの設定を読み込む。
func LoadVendor() (*VendorConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &VendorConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse vendor config: %w", err)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("RECRAFT_TIMEOUT must not be negative: %s", cfg.Timeout)
	}
	return cfg, nil
}

// validate は値の範囲と組み合わせを検証し、派生値を計算する。
func (c *Config) validate() error {
	var problems []error

	switch c.Env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		problems = append(problems, fmt.Errorf("APP_ENV must be one of development, test, production: %q", c.Env))
	}

	if len(c.JWTSecret) < minJWTSecretLength {
		problems = append(problems, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength))
	}

	d, err := str2duration.ParseDuration(c.JWTExpiresInRaw)
	if err != nil {
		problems = append(problems, fmt.Errorf("JWT_EXPIRES_IN is not a valid duration: %w", err))
	} else if d <= 0 {
		problems = append(problems, fmt.Errorf("JWT_EXPIRES_IN must be positive: %q", c.JWTExpiresInRaw))
	}
	c.JWTExpiresIn = d

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		problems = append(problems, fmt.Errorf("BCRYPT_COST must be between 4 and 31: %d", c.BcryptCost))
	}

	if c.RateLimitWindowMS <= 0 {
		problems = append(problems, fmt.Errorf("RATE_LIMIT_WINDOW_MS must be positive: %d", c.RateLimitWindowMS))
	}
	if c.RateLimitMaxRequests <= 0 {
		problems = append(problems, fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive: %d", c.RateLimitMaxRequests))
	}

	switch c.LogLevel {
	case "error", "warn", "info", "debug":
	default:
		problems = append(problems, fmt.Errorf("LOG_LEVEL must be one of error, warn, info, debug: %q", c.LogLevel))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		problems = append(problems, fmt.Errorf("LOG_FORMAT must be json or text: %q", c.LogFormat))
	}

	if len(problems) > 0 {
		return fmt.Errorf("environment validation failed: %w", errors.Join(problems...))
	}
	return nil
}

// loadDotEnv はカレントディレクトリの.envを読み込む。
// ファイルが無い場合は何もしない。既存の環境変数は上書きしない。
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}
