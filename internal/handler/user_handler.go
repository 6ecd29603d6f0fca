package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/memebox/internal/middleware"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	RevokeSessions(ctx context.Context, userID string) error
}

// UserHandler はユーザーアカウント管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	config  AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。CookieはAuthHandlerConfigの設定で削除する。
func NewUserHandler(service UserServiceInterface, config AuthHandlerConfig) *UserHandler {
	return &UserHandler{service: service, config: config}
}

type revokeSessionsResponse struct {
	Revoked bool `json:"revoked"`
}

// RevokeSessions はログインユーザーの全セッションを削除し、この端末のCookieも消す。
// DELETE /api/users/me/sessions
func (h *UserHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.RevokeSessions(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	middleware.WriteJSON(w, http.StatusOK, revokeSessionsResponse{Revoked: true})
}
