// Package recraft はRecraft画像生成APIのクライアントを提供する。
// 生成、ベクター化、背景除去、2種類のアップスケール、スタイル作成の6操作を扱う。
package recraft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultBaseURL はAPIのベースURL。
	DefaultBaseURL = "https://external.api.recraft.ai/v1"
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20
	userAgent        = "Artboard/1.0"
)

// 呼び出し結果のメトリクスラベル
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// CallRecorder はAPI呼び出しの結果と所要時間を記録する。
type CallRecorder interface {
	RecordVendorCall(operation, outcome string, duration time.Duration)
}

// Client はRecraft APIのクライアント。
// リトライは行わず、失敗はすべて*Errorとして返す。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   CallRecorder
	baseURL    string // テスト用に差し替え可能
	token      string
}

// NewClient はClientの新しいインスタンスを生成する。
// timeoutが0の場合はタイムアウトを設定しない。
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// SetRecorder はAPI呼び出しのメトリクス記録先を設定する。
func (c *Client) SetRecorder(r CallRecorder) {
	c.recorder = r
}

// Generate はプロンプトから画像を生成する。
func (c *Client) Generate(ctx context.Context, params GenerateParams) (*Result, error) {
	if strings.TrimSpace(params.Prompt) == "" {
		return nil, newError(OpGenerate, 0, "prompt is required", nil)
	}

	body, err := json.Marshal(params.withDefaults())
	if err != nil {
		return nil, newError(OpGenerate, 0, "", fmt.Errorf("リクエストのエンコードに失敗しました: %w", err))
	}

	var resp imageResponse
	if err := c.call(ctx, OpGenerate, "/images/generations", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return resp.result(OpGenerate)
}

// Vectorize はラスター画像をSVGに変換する。
func (c *Client) Vectorize(ctx context.Context, file File) (*Result, error) {
	return c.editImage(ctx, OpVectorize, "/images/vectorize", file)
}

// RemoveBackground は画像の背景を除去する。
func (c *Client) RemoveBackground(ctx context.Context, file File) (*Result, error) {
	return c.editImage(ctx, OpRemoveBackground, "/images/removeBackground", file)
}

// ClarityUpscale は画像の解像度と鮮明さを上げる。
func (c *Client) ClarityUpscale(ctx context.Context, file File) (*Result, error) {
	return c.editImage(ctx, OpClarityUpscale, "/images/clarityUpscale", file)
}

// GenerativeUpscale は細部を生成しながら画像を拡大する。
func (c *Client) GenerativeUpscale(ctx context.Context, file File) (*Result, error) {
	return c.editImage(ctx, OpGenerativeUpscale, "/images/generativeUpscale", file)
}

// CreateStyle は参照画像からスタイルを作成し、そのIDを返す。
func (c *Client) CreateStyle(ctx context.Context, params CreateStyleParams) (*Style, error) {
	if params.Style == "" {
		return nil, newError(OpCreateStyle, 0, "style is required", nil)
	}
	if len(params.Files) == 0 {
		return nil, newError(OpCreateStyle, 0, "at least one file is required", nil)
	}

	body, contentType, err := encodeMultipart([][2]string{{"style", params.Style}}, params.Files)
	if err != nil {
		return nil, newError(OpCreateStyle, 0, "", err)
	}

	var style Style
	if err := c.call(ctx, OpCreateStyle, "/styles", contentType, body, &style); err != nil {
		return nil, err
	}
	if style.ID == "" {
		return nil, newError(OpCreateStyle, 0, "", errors.New("レスポンスにスタイルIDが含まれていません"))
	}
	return &style, nil
}

// editImage は画像1枚をmultipartで送信する操作の共通処理。
func (c *Client) editImage(ctx context.Context, op, path string, file File) (*Result, error) {
	if file.Content == nil {
		return nil, newError(op, 0, "file is required", nil)
	}

	body, contentType, err := encodeMultipart([][2]string{{"response_format", DefaultResponseFormat}}, []File{file})
	if err != nil {
		return nil, newError(op, 0, "", err)
	}

	var resp imageResponse
	if err := c.call(ctx, op, path, contentType, body, &resp); err != nil {
		return nil, err
	}
	return resp.result(op)
}

// call はリクエストを送信し、所要時間と結果をメトリクスに記録する。
func (c *Client) call(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	start := time.Now()
	err := c.send(ctx, op, path, contentType, body, out)

	if c.recorder != nil {
		outcome := OutcomeSuccess
		if err != nil {
			outcome = OutcomeFailure
		}
		c.recorder.RecordVendorCall(op, outcome, time.Since(start))
	}
	return err
}

func (c *Client) send(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return newError(op, 0, "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("画像生成APIの呼び出しに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return newError(op, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return newError(op, 0, "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := vendorMessage(data)
		c.logger.Error("画像生成APIがエラーステータスを返しました",
			slog.String("operation", op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", message),
		)
		return newError(op, resp.StatusCode, message, nil)
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Error("画像生成APIのレスポンスのパースに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return newError(op, 0, "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err))
	}
	return nil
}

// vendorMessage はエラーレスポンスからメッセージを取り出す。
// error.message を message より優先する。解釈できない場合は空文字を返す。
func vendorMessage(data []byte) string {
	var body errorResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Error != nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return body.Message
}

// result はレスポンスの画像をResultにまとめる。
func (r *imageResponse) result(op string) (*Result, error) {
	images := make([]Image, 0, len(r.Data)+1)
	if r.Image != nil && r.Image.URL != "" {
		images = append(images, *r.Image)
	}
	for _, img := range r.Data {
		if img.URL != "" {
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		return nil, newError(op, 0, "", errors.New("レスポンスに画像URLが含まれていません"))
	}
	return &Result{Images: images}, nil
}

// encodeMultipart はフォームフィールドとファイルをmultipartボディにまとめる。
// ファイルはすべて "file" フィールドで送信する。
func encodeMultipart(fields [][2]string, files []File) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("フォームフィールドの書き込みに失敗しました: %w", err)
		}
	}

	for i, f := range files {
		if f.Content == nil {
			return nil, "", fmt.Errorf("ファイル%dの内容がありません", i)
		}
		name := filepath.Base(f.Name)
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = "image.png"
		}
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			return nil, "", fmt.Errorf("ファイルパートの作成に失敗しました: %w", err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, "", fmt.Errorf("ファイルの読み取りに失敗しました: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("multipartボディの終端に失敗しました: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
