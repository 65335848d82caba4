package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizerService は来訪者が入力した自由記述からマークアップを除去する。
type InputSanitizerService interface {
	Clean(s string) string
}

type inputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はすべてのHTML要素を取り除くサニタイザを生成する。
func NewInputSanitizer() *inputSanitizer {
	return &inputSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はタグを除去し、前後の空白を取り除いた平文を返す。
// StrictPolicyがエスケープした文字実体（&amp; など）は元の文字に戻す。
// 出力側（CSV・JSON）は平文として扱うため二重エスケープを避ける。
func (s *inputSanitizer) Clean(in string) string {
	if in == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}
