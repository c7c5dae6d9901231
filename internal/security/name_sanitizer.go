// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer はユーザーの表示名からHTMLを除去する。
// 表示名はプレーンテキストとして扱うため、すべてのタグを許可しない。
type NameSanitizer struct {
	policy   *bluemonday.Policy
	replacer *strings.Replacer
}

// NewNameSanitizer はNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{
		policy:   bluemonday.StrictPolicy(),
		replacer: strings.NewReplacer("<", "", ">", ""),
	}
}

// SanitizeName はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした文字実体は元の文字に戻し、前後の空白を除く。
// 実体参照で渡された山括弧は復元後に取り除く。
func (s *NameSanitizer) SanitizeName(name string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(name))
	return strings.TrimSpace(s.replacer.Replace(stripped))
}
