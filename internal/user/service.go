// Package user はユーザーアカウント管理のドメインロジックを提供する。
// ユーザーは削除せず、ログイン状態の管理のみを扱う。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/memebox/internal/model"
	"github.com/hitoshi/memebox/internal/repository"
)

// Service はユーザー管理のサービス層。
type Service struct {
	users    repository.UserRepository
	sessions repository.SessionStore
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users repository.UserRepository, sessions repository.SessionStore) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
	}
}

// RevokeSessions はユーザーの全セッションを削除し、すべての端末からログアウトさせる。
// ユーザー・ミーム・いいねはそのまま残る。
func (s *Service) RevokeSessions(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUnauthorizedError()
	}

	if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	slog.Info("all sessions revoked",
		slog.String("user_id", userID),
	)
	return nil
}
