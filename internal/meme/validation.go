package meme

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/memebox/internal/model"
	"github.com/hitoshi/memebox/internal/security"
)

// MaxCaptionLength はキャプションの最大文字数（サニタイズ後）。
const MaxCaptionLength = 500

// CreateInput はミーム作成の入力。
type CreateInput struct {
	Caption  string
	ImageURL string
	Category string
}

// UpdateInput はミーム更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Caption  *string
	Category *string
}

// ListQuery は一覧取得のクエリパラメータ。PageとLimitは未解析の文字列のまま受け取る。
type ListQuery struct {
	Page     string
	Limit    string
	Category string
	Search   string
}

// Pagination はページング情報を表す。
type Pagination struct {
	Page       int
	Limit      int
	TotalItems int
	TotalPages int
}

// ListResult は一覧取得の結果を表す。
type ListResult struct {
	Items      []*model.Meme
	Pagination Pagination
}

// validateCaption はキャプションをサニタイズし、必須・長さを検証する。
func (s *Service) validateCaption(raw string) (string, error) {
	caption := s.sanitizer.Sanitize(raw)
	if caption == "" {
		return "", model.NewInvalidInputError("caption", "キャプションは必須です")
	}
	if utf8.RuneCountInString(caption) > MaxCaptionLength {
		return "", model.NewInvalidInputError("caption",
			"キャプションは"+strconv.Itoa(MaxCaptionLength)+"文字以内で入力してください")
	}
	return caption, nil
}

// validateImageURL は画像URLの形式と接続先を検証する。
func validateImageURL(raw string) (string, error) {
	imageURL := strings.TrimSpace(raw)
	if err := security.ValidateURL(imageURL); err != nil {
		switch {
		case errors.Is(err, security.ErrEmptyURL):
			return "", model.NewInvalidInputError("imageUrl", "画像URLは必須です")
		case errors.Is(err, security.ErrURLTooLong):
			return "", model.NewInvalidInputError("imageUrl", "画像URLが長すぎます")
		case errors.Is(err, security.ErrBlockedHost):
			return "", model.NewInvalidInputError("imageUrl", "このホストは指定できません")
		default:
			return "", model.NewInvalidInputError("imageUrl", "http(s)の絶対URLを指定してください")
		}
	}
	return imageURL, nil
}

// validateCategory はカテゴリが定義済みの値と完全一致するか検証する。
// 未知の値を既定カテゴリに置き換えることはしない。
func validateCategory(raw string) (model.Category, error) {
	category := model.Category(raw)
	if !category.Valid() {
		return "", model.NewInvalidInputError("category", "未知のカテゴリです: "+raw)
	}
	return category, nil
}

// parsePositiveInt は1以上の整数パラメータを解析する。空文字の場合はdefを返す。
func parsePositiveInt(field, raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, model.NewInvalidInputError(field, "1以上の整数を指定してください")
	}
	return n, nil
}

// pageOffset はページ番号から行オフセットを求める。
// 乗算があふれる場合は最大値を返し、空のページとして扱わせる。
func pageOffset(page, limit int) int {
	if page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

// totalPages はceil(totalItems/limit)を返す。
func totalPages(totalItems, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (totalItems + limit - 1) / limit
}
