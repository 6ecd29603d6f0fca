package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/memebox/internal/meme"
	"github.com/hitoshi/memebox/internal/middleware"
	"github.com/hitoshi/memebox/internal/model"
)

// MemeServiceInterface はミームハンドラーが必要とするサービスインターフェース。
type MemeServiceInterface interface {
	Create(ctx context.Context, userID string, input meme.CreateInput) (*model.Meme, error)
	List(ctx context.Context, userID string, query meme.ListQuery) (*meme.ListResult, error)
	Get(ctx context.Context, userID, id string) (*model.Meme, error)
	Update(ctx context.Context, userID, id string, input meme.UpdateInput) (*model.Meme, error)
	Delete(ctx context.Context, userID, id string) error
	ToggleLike(ctx context.Context, userID, id string) (*model.LikeResult, error)
	Random(ctx context.Context, userID string) (*model.Meme, error)
}

// MemeHandler はミーム管理のHTTPハンドラー。
type MemeHandler struct {
	service MemeServiceInterface
}

// NewMemeHandler はMemeHandlerを生成する。
func NewMemeHandler(service MemeServiceInterface) *MemeHandler {
	return &MemeHandler{service: service}
}

type createMemeRequest struct {
	Caption  string `json:"caption"`
	ImageURL string `json:"imageUrl"`
	Category string `json:"category"`
}

// updateMemeRequest は部分更新のリクエスト。imageUrlは更新対象外。
type updateMemeRequest struct {
	Caption  *string `json:"caption"`
	Category *string `json:"category"`
}

// memeResponse はミームのAPIレスポンス。
type memeResponse struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Caption   string    `json:"caption"`
	ImageURL  string    `json:"imageUrl"`
	Category  string    `json:"category"`
	Likes     []string  `json:"likes"`
	LikeCount int       `json:"likeCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type paginationResponse struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

type memeListResponse struct {
	Items      []memeResponse     `json:"items"`
	Pagination paginationResponse `json:"pagination"`
}

type deleteMemeResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type likeResponse struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

// Create はミームを作成する。
// POST /api/memes
func (h *MemeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createMemeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	m, err := h.service.Create(r.Context(), userID, meme.CreateInput{
		Caption:  req.Caption,
		ImageURL: req.ImageURL,
		Category: req.Category,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toMemeResponse(m))
}

// List はユーザーのミーム一覧を返す。
// GET /api/memes?page=&limit=&category=&search=
func (h *MemeHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := h.service.List(r.Context(), userID, meme.ListQuery{
		Page:     q.Get("page"),
		Limit:    q.Get("limit"),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	items := make([]memeResponse, len(result.Items))
	for i, m := range result.Items {
		items[i] = toMemeResponse(m)
	}

	middleware.WriteJSON(w, http.StatusOK, memeListResponse{
		Items: items,
		Pagination: paginationResponse{
			Page:       result.Pagination.Page,
			Limit:      result.Pagination.Limit,
			TotalItems: result.Pagination.TotalItems,
			TotalPages: result.Pagination.TotalPages,
		},
	})
}

// Random はユーザーのミームからランダムに1件返す。
// GET /api/memes/random
func (h *MemeHandler) Random(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	m, err := h.service.Random(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toMemeResponse(m))
}

// Get はミームを1件返す。
// GET /api/memes/{id}
func (h *MemeHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	m, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toMemeResponse(m))
}

// Update はミームのキャプション・カテゴリを更新する。
// PUT /api/memes/{id}
func (h *MemeHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateMemeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	m, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), meme.UpdateInput{
		Caption:  req.Caption,
		Category: req.Category,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toMemeResponse(m))
}

// Delete はミームを削除する。
// DELETE /api/memes/{id}
func (h *MemeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), userID, id); err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, deleteMemeResponse{ID: id, Deleted: true})
}

// ToggleLike はいいねを反転する。
// POST /api/memes/{id}/toggle-like
func (h *MemeHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.service.ToggleLike(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, likeResponse{
		Liked:     result.Liked,
		LikeCount: result.LikeCount,
	})
}

func toMemeResponse(m *model.Meme) memeResponse {
	likes := m.Likes
	if likes == nil {
		likes = []string{}
	}
	return memeResponse{
		ID:        m.ID,
		Owner:     m.OwnerID,
		Caption:   m.Caption,
		ImageURL:  m.ImageURL,
		Category:  string(m.Category),
		Likes:     likes,
		LikeCount: len(likes),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
