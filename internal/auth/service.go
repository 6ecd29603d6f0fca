// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/memebox/internal/metrics"
	"github.com/hitoshi/memebox/internal/model"
	"github.com/hitoshi/memebox/internal/repository"
)

var (
	// ErrMalformedProfile はIdPから取得したプロフィールに必須項目（sub, email, name）が欠けている場合のエラー。
	ErrMalformedProfile = errors.New("malformed identity provider profile")
	// ErrInvalidState はOAuthのstateが不正・期限切れ・クッキーと不一致の場合のエラー。
	ErrInvalidState = errors.New("invalid oauth state")
)

// OAuthUserInfo はOAuthプロバイダーから取得した検証済みのユーザー情報を表す。
type OAuthUserInfo struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、検証済みのユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
// セッショントークンは生値をクッキーでのみ扱い、ストアにはSHA-256ハッシュをキーとして保存する。
type Service struct {
	oauth    OAuthProvider
	users    repository.UserRepository
	sessions repository.SessionStore
	metrics  metrics.MetricsCollector
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	users repository.UserRepository,
	sessions repository.SessionStore,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		oauth:    oauth,
		users:    users,
		sessions: sessions,
		metrics:  collector,
		config:   config,
		now:      time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録のsubjectであればユーザーを作成し、登録済みであれば既存ユーザーでログインする。
// 返すSessionのIDはクッキーに設定する生トークン。失敗時はセッションを発行しない。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	session, err := s.handleCallback(ctx, code)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginFailure)
		return nil, err
	}
	return session, nil
}

func (s *Service) handleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	email := normalizeEmail(info.Email)
	name := strings.TrimSpace(info.Name)
	if info.ProviderUserID == "" || email == "" || name == "" {
		return nil, ErrMalformedProfile
	}

	provider := info.Provider
	if provider == "" {
		provider = model.ProviderGoogle
	}

	// 2. subjectをキーにアトミックにユーザーを作成または取得
	user, created, err := s.users.UpsertByProviderID(ctx, &model.User{
		ID:             uuid.New().String(),
		Provider:       provider,
		ProviderUserID: info.ProviderUserID,
		Email:          email,
		Name:           name,
		AvatarURL:      info.AvatarURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	if created {
		s.metrics.RecordLogin(metrics.LoginNewUser)
		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("provider", provider),
		)
	} else {
		s.metrics.RecordLogin(metrics.LoginExistingUser)
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", provider),
		)
	}

	// 3. セッションを発行
	return s.IssueSession(ctx, user.ID)
}

// IssueSession はユーザーに新しいセッションを発行する。
func (s *Service) IssueSession(ctx context.Context, userID string) (*model.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        token,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.SessionMaxAge),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, HashToken(token), session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// ResolveSession はトークンから有効なセッションを取得する。
// トークンが空・未知・期限切れの場合はnilを返す。エラーはストア障害の場合のみ返す。
func (s *Service) ResolveSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}

	session, err := s.sessions.FindByKey(ctx, HashToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.Expired(s.now()) {
		return nil, nil
	}

	session.ID = token
	return session, nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
// 未認証の場合（セッションなし、期限切れ、ユーザー削除済み）はnilを返す。副作用はない。
func (s *Service) GetCurrentUser(ctx context.Context, token string) (*model.User, error) {
	session, err := s.ResolveSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Logout はセッションを破棄する。空または未知のトークンでもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	if err := s.sessions.DeleteByKey(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.metrics.RecordLogout()
	slog.Info("user logged out")
	return nil
}

// HashToken はセッショントークンのストア用キー（SHA-256のhex）を返す。
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateSessionToken は暗号的に安全なセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
