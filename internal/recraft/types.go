package recraft

import "io"

// 生成リクエストの既定値
const (
	DefaultModel          = "recraftv3"
	DefaultResponseFormat = "url"
	DefaultSize           = "1024x1024"
)

// Controls は生成結果を調整する任意パラメータ。
// ゼロ値のフィールドは送信しない。
type Controls struct {
	PromptStrength    float64 `json:"prompt_strength,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
}

// IsZero はすべてのフィールドが未指定かどうかを返す。
func (c Controls) IsZero() bool {
	return c == Controls{}
}

// GenerateParams はテキストからの画像生成リクエスト。
// Model、ResponseFormat、Sizeが空の場合は既定値で補完される。
type GenerateParams struct {
	Prompt         string    `json:"prompt"`
	StyleID        string    `json:"style_id,omitempty"`
	Style          string    `json:"style,omitempty"`
	Model          string    `json:"model"`
	ResponseFormat string    `json:"response_format"`
	Size           string    `json:"size"`
	N              int       `json:"n,omitempty"`
	NegativePrompt string    `json:"negative_prompt,omitempty"`
	Controls       *Controls `json:"controls,omitempty"`
}

// withDefaults は既定値を補完したコピーを返す。
func (p GenerateParams) withDefaults() GenerateParams {
	if p.Model == "" {
		p.Model = DefaultModel
	}
	if p.ResponseFormat == "" {
		p.ResponseFormat = DefaultResponseFormat
	}
	if p.Size == "" {
		p.Size = DefaultSize
	}
	if p.Controls != nil && p.Controls.IsZero() {
		p.Controls = nil
	}
	return p
}

// File はmultipartで送信する画像ファイル。
type File struct {
	Name    string
	Content io.Reader
}

// CreateStyleParams はスタイル作成リクエスト。
// Styleはベーススタイル名（例: digital_illustration）。参照画像は1枚以上必要。
type CreateStyleParams struct {
	Style string
	Files []File
}

// Image は処理結果の画像1件。
type Image struct {
	URL string `json:"url"`
}

// Result は画像系操作の結果。
type Result struct {
	Images []Image
}

// URLs は結果画像のURL一覧を返す。
func (r *Result) URLs() []string {
	urls := make([]string, 0, len(r.Images))
	for _, img := range r.Images {
		urls = append(urls, img.URL)
	}
	return urls
}

// Style は作成されたスタイル。
type Style struct {
	ID string `json:"id"`
}

// imageResponse はレスポンスボディの形。
// 生成系はdata配列、編集系はimageオブジェクトで結果を返す。
type imageResponse struct {
	Data  []Image `json:"data"`
	Image *Image  `json:"image"`
}

// errorResponse はエラーレスポンスのボディの形。
// error.message と message の両方の形式がある。
type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}
