// Package meme はミームコレクションのドメインロジックを提供する。
package meme

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/memebox/internal/metrics"
	"github.com/hitoshi/memebox/internal/model"
	"github.com/hitoshi/memebox/internal/repository"
	"github.com/hitoshi/memebox/internal/security"
)

// デフォルトのページサイズ設定
const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// Sanitizer はキャプションのサニタイズを抽象化する。
type Sanitizer interface {
	Sanitize(caption string) string
}

// ImageProber は画像URLが実際に画像を返すかを確認する。
type ImageProber interface {
	Probe(ctx context.Context, imageURL string) error
}

// Config はミームサービスの設定。
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Service はミームのCRUD・検索・いいね・ランダム取得を提供する。
// すべての操作は認証済みユーザーIDを受け取り、所有者のミームのみを対象とする。
type Service struct {
	repo      repository.MemeRepository
	sanitizer Sanitizer
	prober    ImageProber // nilの場合は確認しない
	metrics   metrics.MetricsCollector
	config    Config
}

// NewService はServiceを生成する。proberとcollectorはnilでもよい。
func NewService(
	repo repository.MemeRepository,
	sanitizer Sanitizer,
	prober ImageProber,
	collector metrics.MetricsCollector,
	config Config,
) *Service {
	if sanitizer == nil {
		sanitizer = security.NewCaptionSanitizer()
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = DefaultPageSize
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = MaxPageSize
	}
	if config.DefaultPageSize > config.MaxPageSize {
		config.DefaultPageSize = config.MaxPageSize
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		prober:    prober,
		metrics:   collector,
		config:    config,
	}
}

// Create はミームを作成する。所有者は呼び出しユーザーとなる。
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*model.Meme, error) {
	caption, err := s.validateCaption(input.Caption)
	if err != nil {
		return nil, err
	}
	imageURL, err := validateImageURL(input.ImageURL)
	if err != nil {
		return nil, err
	}
	category, err := validateCategory(input.Category)
	if err != nil {
		return nil, err
	}

	if s.prober != nil {
		if err := s.prober.Probe(ctx, imageURL); err != nil {
			slog.Info("image probe rejected url",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return nil, model.NewInvalidInputError("imageUrl", "画像を取得できるURLを指定してください")
		}
	}

	meme := &model.Meme{
		ID:       uuid.New().String(),
		OwnerID:  userID,
		Caption:  caption,
		ImageURL: imageURL,
		Category: category,
		Likes:    []string{},
	}
	if err := s.repo.Create(ctx, meme); err != nil {
		return nil, fmt.Errorf("failed to create meme: %w", err)
	}

	s.metrics.RecordMemeCreated(string(category))
	slog.Info("meme created",
		slog.String("user_id", userID),
		slog.String("meme_id", meme.ID),
		slog.String("category", string(category)),
	)
	return meme, nil
}

// List はユーザーのミームを作成日時の降順でページ単位に返す。
// 最終ページより後のページを指定した場合は空のItemsを返す。
func (s *Service) List(ctx context.Context, userID string, query ListQuery) (*ListResult, error) {
	page, err := parsePositiveInt("page", query.Page, 1)
	if err != nil {
		return nil, err
	}
	limit, err := parsePositiveInt("limit", query.Limit, s.config.DefaultPageSize)
	if err != nil {
		return nil, err
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}

	filter := model.MemeFilter{
		OwnerID: userID,
		Search:  query.Search,
		Limit:   limit,
		Offset:  pageOffset(page, limit),
	}
	if query.Category != "" {
		category, err := validateCategory(query.Category)
		if err != nil {
			return nil, err
		}
		filter.Category = category
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list memes: %w", err)
	}
	if items == nil {
		items = []*model.Meme{}
	}

	return &ListResult{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			TotalItems: total,
			TotalPages: totalPages(total, limit),
		},
	}, nil
}

// Get はユーザーが所有するミームを返す。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.Meme, error) {
	return s.findOwned(ctx, userID, id)
}

// Update はミームのキャプション・カテゴリを部分更新し、更新後のミームを返す。
func (s *Service) Update(ctx context.Context, userID, id string, input UpdateInput) (*model.Meme, error) {
	if input.Caption == nil && input.Category == nil {
		return nil, model.NewInvalidInputError("body", "caption または category を指定してください")
	}

	var caption *string
	if input.Caption != nil {
		c, err := s.validateCaption(*input.Caption)
		if err != nil {
			return nil, err
		}
		caption = &c
	}
	var category *model.Category
	if input.Category != nil {
		c, err := validateCategory(*input.Category)
		if err != nil {
			return nil, err
		}
		category = &c
	}

	if _, err := s.findOwned(ctx, userID, id); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, id, userID, caption, category)
	if err != nil {
		return nil, fmt.Errorf("failed to update meme: %w", err)
	}
	if !updated {
		return nil, model.NewMemeNotFoundError(id)
	}

	return s.findOwned(ctx, userID, id)
}

// Delete はミームを削除する。
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.findOwned(ctx, userID, id); err != nil {
		return err
	}

	deleted, err := s.repo.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete meme: %w", err)
	}
	if !deleted {
		return model.NewMemeNotFoundError(id)
	}

	s.metrics.RecordMemeDeleted()
	slog.Info("meme deleted",
		slog.String("user_id", userID),
		slog.String("meme_id", id),
	)
	return nil
}

// ToggleLike はユーザーのいいねを反転する。
// ミームの存在のみを要求し、自分のミームへのいいねも許可する。
func (s *Service) ToggleLike(ctx context.Context, userID, id string) (*model.LikeResult, error) {
	if !validID(id) {
		return nil, model.NewMemeNotFoundError(id)
	}

	result, err := s.repo.ToggleLike(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle like: %w", err)
	}
	if result == nil {
		return nil, model.NewMemeNotFoundError(id)
	}

	s.metrics.RecordLikeToggle(result.Liked)
	slog.Debug("like toggled",
		slog.String("user_id", userID),
		slog.String("meme_id", id),
		slog.Bool("liked", result.Liked),
	)
	return result, nil
}

// Random はユーザーのミームから一様ランダムに1件返す。
func (s *Service) Random(ctx context.Context, userID string) (*model.Meme, error) {
	meme, err := s.repo.RandomByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to pick random meme: %w", err)
	}
	if meme == nil {
		return nil, model.NewNoMemesFoundError()
	}
	return meme, nil
}

// findOwned はミームを取得し所有者を確認する。
// 不正なID・存在しないID・他ユーザーのIDはすべてNOT_FOUNDとして扱う。
func (s *Service) findOwned(ctx context.Context, userID, id string) (*model.Meme, error) {
	if !validID(id) {
		return nil, model.NewMemeNotFoundError(id)
	}

	meme, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find meme: %w", err)
	}
	if !Authorize(userID, meme) {
		return nil, model.NewMemeNotFoundError(id)
	}
	return meme, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
