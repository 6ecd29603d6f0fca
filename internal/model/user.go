// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderGoogle はGoogle OAuthで作成されたユーザーのプロバイダー名。
const ProviderGoogle = "google"

// User はサービス利用ユーザーを表す。
// Provider と ProviderUserID の組が外部IdPとの紐付けキーとなる。
type User struct {
	ID             string
	Provider       string
	ProviderUserID string // IdPのsubject識別子
	Email          string // 小文字・前後空白除去済み
	Name           string
	AvatarURL      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// IDはCookieに載せる生トークンで、永続化層にはハッシュ値のみを保存する。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
