// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/memebox/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// UpsertByProviderID はproviderとprovider_user_idをキーにユーザーを冪等に作成する。
	// 既存ユーザーのプロフィールは更新せず、そのまま返す。
	// createdは今回の呼び出しで新規作成された場合にtrueとなる。
	UpsertByProviderID(ctx context.Context, user *model.User) (stored *model.User, created bool, err error)
}

// SessionStore はセッションデータの永続化インターフェース。
// keyにはCookieの生トークンではなくハッシュ値を渡す。
type SessionStore interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, key string, session *model.Session) error
	// FindByKey は指定キーのセッションを取得する。期限切れまたは存在しない場合はnilを返す。
	FindByKey(ctx context.Context, key string) (*model.Session, error)
	// DeleteByKey は指定キーのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByKey(ctx context.Context, key string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// MemeRepository はミームデータの永続化インターフェース。
type MemeRepository interface {
	// Create はミームを作成する。CreatedAt/UpdatedAtは永続化層で設定される。
	Create(ctx context.Context, meme *model.Meme) error

	// FindByID は指定IDのミームをいいね集合付きで取得する。見つからない場合はnilを返す。
	// 所有者の検証は呼び出し側で行う。
	FindByID(ctx context.Context, id string) (*model.Meme, error)

	// List は所有者のミームをフィルタ・ページ指定付きで作成日時の降順に取得する。
	// 2つ目の戻り値はページングを考慮しない該当総件数。
	List(ctx context.Context, filter model.MemeFilter) ([]*model.Meme, int, error)

	// Update は所有者のミームのキャプション・カテゴリを部分更新する。
	// nilフィールドは変更しない。対象が存在しない場合はfalseを返す。
	Update(ctx context.Context, id, ownerID string, caption *string, category *model.Category) (bool, error)

	// Delete は所有者のミームを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, id, ownerID string) (bool, error)

	// ToggleLike はユーザーのいいねをアトミックに追加または削除する。
	// ミームが存在しない場合はnilを返す。
	ToggleLike(ctx context.Context, memeID, userID string) (*model.LikeResult, error)

	// RandomByOwner は所有者のミームから一様ランダムに1件取得する。
	// 1件も存在しない場合はnilを返す。
	RandomByOwner(ctx context.Context, ownerID string) (*model.Meme, error)
}
