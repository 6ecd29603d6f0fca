package meme

import "github.com/hitoshi/memebox/internal/model"

// Authorize はユーザーがミームを操作できるかを返す。
// 所有者本人のみ許可する。
func Authorize(userID string, m *model.Meme) bool {
	return m != nil && userID != "" && m.OwnerID == userID
}
