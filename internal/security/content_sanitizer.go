// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は請求書の自由入力テキスト（取引先名、備考など）から
// マークアップを取り除く。請求書はHTMLとして描画されPDF化されるため、
// 保存前にタグを除去しておく。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキスト化の機能のインターフェースを定義する。
type TextSanitizerService interface {
	// Clean は入力から全てのHTMLタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// 文字参照はデコードされる（描画時にテンプレート側で再エスケープされる）。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Clean(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Clean は入力をプレーンテキスト化する。
func (s *textSanitizer) Clean(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
