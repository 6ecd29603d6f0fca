package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// CaptionSanitizer はミームのキャプションからHTMLを除去してプレーンテキストにする。
// bluemondayのStrictPolicyは全タグを除去するため、タグの中身のテキストのみが残る。
type CaptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewCaptionSanitizer はCaptionSanitizerを生成する。
func NewCaptionSanitizer() *CaptionSanitizer {
	return &CaptionSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
// StrictPolicyがエスケープした実体参照は元の文字に戻す。
// 実体参照で二重に隠されたタグも残らないよう、出力が変化しなくなるまで繰り返す。
func (s *CaptionSanitizer) Sanitize(caption string) string {
	out := caption
	for i := 0; i < 3; i++ {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(out)
}
