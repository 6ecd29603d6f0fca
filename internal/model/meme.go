package model

import "time"

// Category はミームのカテゴリを表す。
type Category string

const (
	CategoryFunny     Category = "Funny"
	CategoryDank      Category = "Dank"
	CategoryWholesome Category = "Wholesome"
	CategoryGaming    Category = "Gaming"
	CategoryAnimals   Category = "Animals"
	CategoryRelatable Category = "Relatable"
	CategoryOther     Category = "Other"
)

// Categories は選択可能なカテゴリの一覧。表示順を兼ねる。
var Categories = []Category{
	CategoryFunny,
	CategoryDank,
	CategoryWholesome,
	CategoryGaming,
	CategoryAnimals,
	CategoryRelatable,
	CategoryOther,
}

// Valid はカテゴリが定義済みの集合に含まれるかを返す。
// 大文字小文字の違いは許容しない。
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Meme はユーザーが登録したミーム画像を表す。
type Meme struct {
	ID        string
	OwnerID   string
	Caption   string
	ImageURL  string
	Category  Category
	Likes     []string // いいねしたユーザーIDの集合
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LikeCount はいいね数を返す。
func (m *Meme) LikeCount() int {
	return len(m.Likes)
}

// MemeFilter はミーム一覧の絞り込み条件とページ指定を表す。
type MemeFilter struct {
	OwnerID  string
	Category Category // 空の場合は絞り込まない
	Search   string   // キャプションの部分一致（大文字小文字を区別しない）
	Limit    int
	Offset   int
}

// LikeResult はいいねトグルの結果を表す。
type LikeResult struct {
	Liked     bool
	LikeCount int
}
