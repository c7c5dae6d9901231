package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/artboard/internal/model"
)

// レスポンスのstatusフィールドの値
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// internalErrorMessage は本番環境で想定外エラーの詳細の代わりに返すメッセージ。
const internalErrorMessage = "Internal server error"

// Envelope はすべてのAPIレスポンスを包む統一フォーマット。
type Envelope struct {
	Status  string             `json:"status"`
	Data    any                `json:"data,omitempty"`
	Message string             `json:"message,omitempty"`
	Errors  []model.FieldError `json:"errors,omitempty"`
	Stack   string             `json:"stack,omitempty"`
}

// WriteJSON はEnvelopeをJSONで書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteSuccess はdataを含む成功レスポンスを書き込む。
func WriteSuccess(w http.ResponseWriter, statusCode int, data any) {
	WriteJSON(w, statusCode, Envelope{Status: StatusSuccess, Data: data})
}

// WriteSuccessMessage はメッセージのみの成功レスポンスを書き込む。
func WriteSuccessMessage(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, Envelope{Status: StatusSuccess, Message: message})
}

// HandlerFunc はエラーを返すHTTPハンドラー。
// 返されたエラーはErrorResponderがレスポンスに変換する。
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorResponder はすべての失敗を統一フォーマットのレスポンスに変換する。
type ErrorResponder struct {
	production bool
	logger     *slog.Logger
}

// NewErrorResponder はErrorResponderを生成する。
// productionがtrueの場合、スタックトレースと想定外エラーの詳細を返さない。
func NewErrorResponder(production bool, logger *slog.Logger) *ErrorResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorResponder{production: production, logger: logger}
}

// Respond はエラーをKindに応じたレスポンスとして書き込む。
func (er *ErrorResponder) Respond(w http.ResponseWriter, r *http.Request, err error) {
	appErr := model.AsAppError(err)

	switch appErr.Kind {
	case model.KindOperational:
		WriteJSON(w, appErr.StatusCode, Envelope{
			Status:  StatusError,
			Message: appErr.Message,
			Stack:   er.stack(appErr),
		})

	case model.KindValidation:
		WriteJSON(w, http.StatusBadRequest, Envelope{
			Status:  StatusError,
			Message: appErr.Message,
			Errors:  appErr.Fields,
		})

	case model.KindUnexpected:
		er.logger.Error("unexpected error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", appErr.Error()),
		)
		message := appErr.Message
		if er.production || message == "" {
			message = internalErrorMessage
		}
		WriteJSON(w, http.StatusInternalServerError, Envelope{
			Status:  StatusError,
			Message: message,
			Stack:   er.stack(appErr),
		})

	default:
		panic("unknown error kind: " + appErr.Kind.String())
	}
}

// Handle はエラーを返すハンドラーをhttp.Handlerに変換する。
func (er *ErrorResponder) Handle(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			er.Respond(w, r, err)
		}
	})
}

func (er *ErrorResponder) stack(appErr *model.AppError) string {
	if er.production {
		return ""
	}
	return appErr.Stack()
}
