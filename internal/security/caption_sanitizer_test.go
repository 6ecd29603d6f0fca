package security

import "testing"

func TestCaptionSanitizer_Sanitize(t *testing.T) {
	s := NewCaptionSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "When the code compiles", "When the code compiles"},
		{"前後の空白を除去", "  padded  ", "padded"},
		{"タグを除去して中身を残す", "<b>bold</b> move", "bold move"},
		{"scriptは中身ごと除去", "<script>alert(1)</script>hi", "hi"},
		{"イベント属性付きタグ", `<img src=x onerror="alert(1)">cat`, "cat"},
		{"アンパサンドは元の文字に戻す", "Tom & Jerry", "Tom & Jerry"},
		{"不等号は保持", "a < b", "a < b"},
		{"実体参照で隠したタグも除去", "&lt;script&gt;alert(1)&lt;/script&gt;ok", "ok"},
		{"タグのみは空文字列", "<p></p>", ""},
		{"日本語", "<em>猫</em>のミーム", "猫のミーム"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCaptionSanitizer_Idempotent(t *testing.T) {
	s := NewCaptionSanitizer()
	input := `<div onclick="x()">Tom &amp; <i>Jerry</i></div>`
	first := s.Sanitize(input)
	if second := s.Sanitize(first); second != first {
		t.Errorf("Sanitize is not idempotent: %q -> %q", first, second)
	}
}
