package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hitoshi/memebox/internal/database"
	"github.com/hitoshi/memebox/internal/model"
	_ "github.com/lib/pq"
)

// openTestDB はマイグレーション済みのテスト用DBを返す。
// TEST_DATABASE_URLが未設定または接続できない場合はテストをスキップする。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}

	if err := database.RunMigrations(dbURL); err != nil {
		db.Close()
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	if _, err := db.Exec(`TRUNCATE meme_likes, memes, sessions, users CASCADE`); err != nil {
		db.Close()
		t.Fatalf("テーブルの初期化に失敗: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser はテスト用ユーザーを作成してIDを返す。
func createTestUser(t *testing.T, db *sql.DB, sub string) string {
	t.Helper()

	repo := NewPostgresUserRepo(db)
	user, _, err := repo.UpsertByProviderID(context.Background(), &model.User{
		ID:             uuid.NewString(),
		Provider:       model.ProviderGoogle,
		ProviderUserID: sub,
		Email:          sub + "@example.com",
		Name:           "User " + sub,
	})
	if err != nil {
		t.Fatalf("ユーザー作成に失敗: %v", err)
	}
	return user.ID
}
