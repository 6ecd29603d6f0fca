package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/memebox/internal/model"
	"github.com/lib/pq"
)

// PostgresMemeRepo はPostgreSQLを使用したミームリポジトリ。
// いいね集合はmeme_likesテーブルの(meme_id, user_id)主キーで重複を防ぐ。
type PostgresMemeRepo struct {
	db *sql.DB
}

// NewPostgresMemeRepo はPostgresMemeRepoを生成する。
func NewPostgresMemeRepo(db *sql.DB) *PostgresMemeRepo {
	return &PostgresMemeRepo{db: db}
}

// selectMemeSQL はいいねしたユーザーID配列を含めてミームを取得するSELECT句。
const selectMemeSQL = `SELECT m.id, m.owner_id, m.caption, m.image_url, m.category, m.created_at, m.updated_at,
        ARRAY(SELECT l.user_id::text FROM meme_likes l WHERE l.meme_id = m.id ORDER BY l.created_at) AS likes
 FROM memes m`

// listConditionSQL は一覧と件数取得で共通のWHERE句。
// $2が空文字列ならカテゴリ、$3が空文字列ならキャプション検索を行わない。
const listConditionSQL = ` WHERE m.owner_id = $1
   AND ($2::text = '' OR m.category = $2::text)
   AND ($3::text = '' OR m.caption ILIKE '%' || $3::text || '%')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeme(row rowScanner) (*model.Meme, error) {
	m := &model.Meme{}
	var category string
	var likes []string
	if err := row.Scan(
		&m.ID, &m.OwnerID, &m.Caption, &m.ImageURL, &category,
		&m.CreatedAt, &m.UpdatedAt, pq.Array(&likes),
	); err != nil {
		return nil, err
	}
	m.Category = model.Category(category)
	if likes == nil {
		likes = []string{}
	}
	m.Likes = likes
	return m, nil
}

// Create はミームを作成し、DBが付与したタイムスタンプを反映する。
func (r *PostgresMemeRepo) Create(ctx context.Context, meme *model.Meme) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO memes (id, owner_id, caption, image_url, category, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 RETURNING created_at, updated_at`,
		meme.ID, meme.OwnerID, meme.Caption, meme.ImageURL, string(meme.Category),
	).Scan(&meme.CreatedAt, &meme.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create meme: %w", err)
	}
	if meme.Likes == nil {
		meme.Likes = []string{}
	}
	return nil
}

// FindByID は指定IDのミームを取得する。見つからない場合はnilを返す。
func (r *PostgresMemeRepo) FindByID(ctx context.Context, id string) (*model.Meme, error) {
	m, err := scanMeme(r.db.QueryRowContext(ctx, selectMemeSQL+` WHERE m.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find meme: %w", err)
	}
	return m, nil
}

// List は所有者のミーム一覧と該当総件数を返す。
func (r *PostgresMemeRepo) List(ctx context.Context, filter model.MemeFilter) ([]*model.Meme, int, error) {
	search := escapeLike(filter.Search)
	category := string(filter.Category)

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM memes m`+listConditionSQL,
		filter.OwnerID, category, search,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count memes: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		selectMemeSQL+listConditionSQL+`
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $4 OFFSET $5`,
		filter.OwnerID, category, search, filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list memes: %w", err)
	}
	defer rows.Close()

	memes := make([]*model.Meme, 0, filter.Limit)
	for rows.Next() {
		m, err := scanMeme(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan meme: %w", err)
		}
		memes = append(memes, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate memes: %w", err)
	}

	return memes, total, nil
}

// Update は所有者のミームを部分更新する。
func (r *PostgresMemeRepo) Update(ctx context.Context, id, ownerID string, caption *string, category *model.Category) (bool, error) {
	var categoryArg *string
	if category != nil {
		c := string(*category)
		categoryArg = &c
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE memes SET
		    caption = COALESCE($3::text, caption),
		    category = COALESCE($4::text, category),
		    updated_at = now()
		 WHERE id = $1 AND owner_id = $2`,
		id, ownerID, caption, categoryArg,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update meme: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete は所有者のミームを削除する。meme_likesはCASCADE削除される。
func (r *PostgresMemeRepo) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM memes WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete meme: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ToggleLike はいいねをトグルする。
// アプリケーション層で集合を読み書きせず、行単位のDELETE/INSERTで集合を更新するため、
// 異なるユーザーの同時トグルでも更新が失われない。
func (r *PostgresMemeRepo) ToggleLike(ctx context.Context, memeID, userID string) (*model.LikeResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// トグル中にミームが削除されないようキー共有ロックを取る
	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM memes WHERE id = $1 FOR KEY SHARE`,
		memeID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock meme: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM meme_likes WHERE meme_id = $1 AND user_id = $2`,
		memeID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to remove like: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	liked := false
	if removed == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO meme_likes (meme_id, user_id, created_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (meme_id, user_id) DO NOTHING`,
			memeID, userID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to add like: %w", err)
		}
		liked = true
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM meme_likes WHERE meme_id = $1`,
		memeID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count likes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &model.LikeResult{Liked: liked, LikeCount: count}, nil
}

// RandomByOwner は所有者のミームから一様ランダムに1件取得する。
func (r *PostgresMemeRepo) RandomByOwner(ctx context.Context, ownerID string) (*model.Meme, error) {
	m, err := scanMeme(r.db.QueryRowContext(ctx,
		selectMemeSQL+` WHERE m.owner_id = $1 ORDER BY random() LIMIT 1`,
		ownerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick random meme: %w", err)
	}
	return m, nil
}

// likeEscaper はLIKEパターンのメタ文字をエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike は検索文字列を部分一致用にエスケープする。
// PostgreSQLのLIKEはデフォルトでバックスラッシュをエスケープ文字とする。
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// compile-time interface check
var _ MemeRepository = (*PostgresMemeRepo)(nil)
