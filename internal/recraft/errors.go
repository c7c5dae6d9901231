package recraft

import "fmt"

// 操作名。エラーとメトリクスのラベルに使用する。
const (
	OpGenerate          = "generate"
	OpVectorize         = "vectorize"
	OpRemoveBackground  = "removeBackground"
	OpClarityUpscale    = "clarityUpscale"
	OpGenerativeUpscale = "generativeUpscale"
	OpCreateStyle       = "createStyle"
)

// fallbackMessages はAPIがメッセージを返さなかった場合の操作ごとの文言。
var fallbackMessages = map[string]string{
	OpGenerate:          "Failed to generate image",
	OpVectorize:         "Failed to vectorize image",
	OpRemoveBackground:  "Failed to remove background",
	OpClarityUpscale:    "Failed to upscale image",
	OpGenerativeUpscale: "Failed to upscale image",
	OpCreateStyle:       "Failed to create style",
}

// Error は画像生成API呼び出しの失敗を表す。
// 通信エラーの場合はStatusCodeが0でErrに原因が入る。
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("recraft %s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("recraft %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("recraft %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError はAPIのメッセージが空なら操作ごとの既定文言を使ってErrorを生成する。
func newError(op string, status int, message string, cause error) *Error {
	if message == "" {
		message = fallbackMessages[op]
	}
	return &Error{Op: op, StatusCode: status, Message: message, Err: cause}
}
