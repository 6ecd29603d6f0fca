package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/memebox/internal/model"
	"github.com/lib/pq"
)

// ErrEmailTaken は別のIdPユーザーが同じメールアドレスで登録済みの場合に返される。
var ErrEmailTaken = errors.New("email already registered by another account")

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, provider, provider_user_id, email, name, avatar_url, created_at, updated_at`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	).Scan(
		&user.ID, &user.Provider, &user.ProviderUserID,
		&user.Email, &user.Name, &user.AvatarURL,
		&user.CreatedAt, &user.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// UpsertByProviderID はproviderとprovider_user_idをキーにユーザーを冪等に作成する。
// UNIQUE(provider, provider_user_id)制約を利用した1文のINSERT ON CONFLICTで実装し、
// 同一IdPユーザーの同時初回ログインでも重複ユーザーを作らない。
// 競合時は何も変更せず既存行を返す（プロフィールは初回ログイン時の値のまま）。
func (r *PostgresUserRepo) UpsertByProviderID(ctx context.Context, user *model.User) (*model.User, bool, error) {
	stored := &model.User{}
	var created bool

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, provider, provider_user_id, email, name, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (provider, provider_user_id) DO UPDATE SET
		     provider_user_id = EXCLUDED.provider_user_id
		 RETURNING `+userColumns+`, (xmax = 0) AS created`,
		user.ID, user.Provider, user.ProviderUserID, user.Email, user.Name, user.AvatarURL,
	).Scan(
		&stored.ID, &stored.Provider, &stored.ProviderUserID,
		&stored.Email, &stored.Name, &stored.AvatarURL,
		&stored.CreatedAt, &stored.UpdatedAt,
		&created,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "users_email_key" {
			return nil, false, ErrEmailTaken
		}
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	return stored, created, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
