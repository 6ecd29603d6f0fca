package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/memebox/internal/auth"
	"github.com/hitoshi/memebox/internal/meme"
	"github.com/hitoshi/memebox/internal/metrics"
	"github.com/hitoshi/memebox/internal/middleware"
	"github.com/hitoshi/memebox/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// memMemeRepo はルーター統合テスト用のインメモリMemeRepository。
type memMemeRepo struct {
	mu    sync.Mutex
	memes map[string]*model.Meme
	seq   int
}

func newMemMemeRepo() *memMemeRepo {
	return &memMemeRepo{memes: make(map[string]*model.Meme)}
}

func cloneMeme(m *model.Meme) *model.Meme {
	c := *m
	c.Likes = append([]string{}, m.Likes...)
	return &c
}

func (r *memMemeRepo) Create(ctx context.Context, m *model.Meme) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	// 作成順を一意にするため1秒ずつずらす
	ts := time.Date(2026, 1, 1, 0, 0, r.seq, 0, time.UTC)
	m.CreatedAt, m.UpdatedAt = ts, ts
	r.memes[m.ID] = cloneMeme(m)
	return nil
}

func (r *memMemeRepo) FindByID(ctx context.Context, id string) (*model.Meme, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.memes[id]; ok {
		return cloneMeme(m), nil
	}
	return nil, nil
}

func (r *memMemeRepo) List(ctx context.Context, f model.MemeFilter) ([]*model.Meme, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*model.Meme
	for _, m := range r.memes {
		if m.OwnerID != f.OwnerID {
			continue
		}
		if f.Category != "" && m.Category != f.Category {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(m.Caption), strings.ToLower(f.Search)) {
			continue
		}
		matched = append(matched, cloneMeme(m))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if f.Offset >= total {
		return []*model.Meme{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (r *memMemeRepo) Update(ctx context.Context, id, ownerID string, caption *string, category *model.Category) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memes[id]
	if !ok || m.OwnerID != ownerID {
		return false, nil
	}
	if caption != nil {
		m.Caption = *caption
	}
	if category != nil {
		m.Category = *category
	}
	m.UpdatedAt = m.UpdatedAt.Add(time.Minute)
	return true, nil
}

func (r *memMemeRepo) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memes[id]
	if !ok || m.OwnerID != ownerID {
		return false, nil
	}
	delete(r.memes, id)
	return true, nil
}

func (r *memMemeRepo) ToggleLike(ctx context.Context, memeID, userID string) (*model.LikeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memes[memeID]
	if !ok {
		return nil, nil
	}
	for i, id := range m.Likes {
		if id == userID {
			m.Likes = append(m.Likes[:i], m.Likes[i+1:]...)
			return &model.LikeResult{Liked: false, LikeCount: len(m.Likes)}, nil
		}
	}
	m.Likes = append(m.Likes, userID)
	return &model.LikeResult{Liked: true, LikeCount: len(m.Likes)}, nil
}

func (r *memMemeRepo) RandomByOwner(ctx context.Context, ownerID string) (*model.Meme, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var owned []*model.Meme
	for _, m := range r.memes {
		if m.OwnerID == ownerID {
			owned = append(owned, m)
		}
	}
	if len(owned) == 0 {
		return nil, nil
	}
	return cloneMeme(owned[rand.Intn(len(owned))]), nil
}

type sessionResolverFunc func(ctx context.Context, token string) (*model.Session, error)

func (f sessionResolverFunc) ResolveSession(ctx context.Context, token string) (*model.Session, error) {
	return f(ctx, token)
}

// テスト用セッション: Cookie値 "token-<user>" がユーザー "<user>" に対応する
var testSessions = sessionResolverFunc(func(ctx context.Context, token string) (*model.Session, error) {
	userID, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return nil, nil
	}
	return &model.Session{UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
})

type testServer struct {
	handler  http.Handler
	registry *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	handler := NewRouter(&RouterDeps{
		SessionResolver:   testSessions,
		CORSAllowedOrigin: "http://localhost:4200",
		AuthService: &mockAuthService{
			getCurrentUserFn: func(ctx context.Context, token string) (*model.User, error) {
				userID, ok := strings.CutPrefix(token, "token-")
				if !ok {
					return nil, nil
				}
				return &model.User{ID: userID, Name: "Test " + userID, Email: userID + "@example.com"}, nil
			},
		},
		StateManager:   auth.NewStateSigner("router-secret", 0),
		AuthConfig:     testAuthConfig,
		MemeService:    meme.NewService(newMemMemeRepo(), nil, nil, collector, meme.Config{}),
		UserService: &mockUserService{
			revokeFn: func(ctx context.Context, userID string) error { return nil },
		},
		HealthCheckers: map[string]HealthChecker{"database": pingerFunc(func(ctx context.Context) error { return nil })},
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
	})
	return &testServer{handler: handler, registry: reg}
}

// do はユーザーを指定してリクエストを実行する。userが空の場合はCookieなし。
func (s *testServer) do(method, target, user, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if user != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "token-" + user})
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) createMeme(t *testing.T, user, caption, category string) memeResponse {
	t.Helper()
	body := fmt.Sprintf(`{"caption":%q,"imageUrl":"https://i.example.com/%d.png","category":%q}`, caption, len(caption), category)
	w := s.do(http.MethodPost, "/api/memes", user, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	var m memeResponse
	if err := json.Unmarshal(decode(t, w).Data, &m); err != nil {
		t.Fatalf("failed to decode meme: %v", err)
	}
	return m
}

// --- テスト ---

func TestRouter_UnknownRoute_Returns404Envelope(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/unknown", "", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if env := decode(t, w); env.Status.Error == nil || env.Status.Error.Code != model.ErrCodeNotFound {
		t.Errorf("unexpected envelope: %+v", env.Status)
	}
}

func TestRouter_MethodNotAllowed_Returns405Envelope(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPatch, "/health", "", "")

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if env := decode(t, w); env.Status.Error == nil || env.Status.Error.Code != model.ErrCodeMethodNotAllowed {
		t.Errorf("unexpected envelope: %+v", env.Status)
	}
}

func TestRouter_MemeRoutes_RequireSession(t *testing.T) {
	s := newTestServer(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/memes"},
		{http.MethodPost, "/api/memes"},
		{http.MethodGet, "/api/memes/random"},
		{http.MethodGet, "/api/memes/" + testMemeID},
		{http.MethodPut, "/api/memes/" + testMemeID},
		{http.MethodDelete, "/api/memes/" + testMemeID},
		{http.MethodPost, "/api/memes/" + testMemeID + "/toggle-like"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := s.do(rt.method, rt.path, "", "")
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if env := decode(t, w); env.Status.Error == nil || env.Status.Error.Code != model.ErrCodeUnauthorized {
				t.Errorf("unexpected envelope: %+v", env.Status)
			}
		})
	}
}

func TestRouter_CreateThenListAndGet(t *testing.T) {
	s := newTestServer(t)

	created := s.createMeme(t, "alice", "<b>Monday</b> again", "Relatable")
	if created.Caption != "Monday again" {
		t.Errorf("caption = %q, want sanitized text", created.Caption)
	}
	if created.Owner != "alice" || created.LikeCount != 0 || len(created.Likes) != 0 {
		t.Errorf("unexpected meme: %+v", created)
	}

	w := s.do(http.MethodGet, "/api/memes", "alice", "")
	var list memeListResponse
	json.Unmarshal(decode(t, w).Data, &list)
	if len(list.Items) != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("items = %+v", list.Items)
	}
	if list.Pagination != (paginationResponse{Page: 1, Limit: 10, TotalItems: 1, TotalPages: 1}) {
		t.Errorf("pagination = %+v", list.Pagination)
	}

	w = s.do(http.MethodGet, "/api/memes/"+created.ID, "alice", "")
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_RandomIsNotTreatedAsID(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/memes/random", "alice", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if env := decode(t, w); env.Status.Error == nil || env.Status.Error.Code != model.ErrCodeNoMemesFound {
		t.Errorf("unexpected envelope: %+v", env.Status)
	}

	created := s.createMeme(t, "alice", "only one", "Funny")
	w = s.do(http.MethodGet, "/api/memes/random", "alice", "")
	var m memeResponse
	json.Unmarshal(decode(t, w).Data, &m)
	if m.ID != created.ID {
		t.Errorf("random id = %q, want %q", m.ID, created.ID)
	}
}

func TestRouter_OtherUsersMeme_IsNotFound(t *testing.T) {
	s := newTestServer(t)
	created := s.createMeme(t, "alice", "mine", "Funny")

	tests := []struct{ method, path, body string }{
		{http.MethodGet, "/api/memes/" + created.ID, ""},
		{http.MethodPut, "/api/memes/" + created.ID, `{"caption":"stolen"}`},
		{http.MethodDelete, "/api/memes/" + created.ID, ""},
	}
	for _, tt := range tests {
		w := s.do(tt.method, tt.path, "bob", tt.body)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want %d", tt.method, w.Code, http.StatusNotFound)
		}
	}

	// aliceのミームは変更されていない
	w := s.do(http.MethodGet, "/api/memes/"+created.ID, "alice", "")
	var m memeResponse
	json.Unmarshal(decode(t, w).Data, &m)
	if m.Caption != "mine" {
		t.Errorf("caption = %q, want mine", m.Caption)
	}

	// bobの一覧にも出てこない
	w = s.do(http.MethodGet, "/api/memes", "bob", "")
	var list memeListResponse
	json.Unmarshal(decode(t, w).Data, &list)
	if len(list.Items) != 0 || list.Pagination.TotalItems != 0 {
		t.Errorf("bob should see no memes: %+v", list)
	}
}

func TestRouter_ToggleLikeTwice_RestoresState(t *testing.T) {
	s := newTestServer(t)
	created := s.createMeme(t, "alice", "like me", "Wholesome")
	path := "/api/memes/" + created.ID + "/toggle-like"

	var first, second likeResponse
	json.Unmarshal(decode(t, s.do(http.MethodPost, path, "alice", "")).Data, &first)
	json.Unmarshal(decode(t, s.do(http.MethodPost, path, "alice", "")).Data, &second)

	if !first.Liked || first.LikeCount != 1 {
		t.Errorf("first = %+v, want liked with count 1", first)
	}
	if second.Liked || second.LikeCount != 0 {
		t.Errorf("second = %+v, want unliked with count 0", second)
	}
}

func TestRouter_UpdateAndDelete(t *testing.T) {
	s := newTestServer(t)
	created := s.createMeme(t, "alice", "draft", "Other")

	w := s.do(http.MethodPut, "/api/memes/"+created.ID, "alice", `{"caption":"final","category":"Dank"}`)
	var updated memeResponse
	json.Unmarshal(decode(t, w).Data, &updated)
	if updated.Caption != "final" || updated.Category != "Dank" {
		t.Errorf("updated = %+v", updated)
	}

	w = s.do(http.MethodPut, "/api/memes/"+created.ID, "alice", `{"category":"funny"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid category status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = s.do(http.MethodDelete, "/api/memes/"+created.ID, "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusOK)
	}
	w = s.do(http.MethodDelete, "/api/memes/"+created.ID, "alice", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_CurrentUser(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/auth/current_user", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if env := decode(t, w); !env.Status.Success || string(env.Data) != "null" {
		t.Errorf("anonymous current_user should be null: %+v %s", env.Status, env.Data)
	}

	w = s.do(http.MethodGet, "/auth/current_user", "alice", "")
	var u userResponse
	json.Unmarshal(decode(t, w).Data, &u)
	if u.ID != "alice" || u.Email != "alice@example.com" {
		t.Errorf("user = %+v", u)
	}
}

func TestRouter_LoginRedirects(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/auth/google", "", "")

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if !strings.Contains(w.Header().Get("Location"), "state=") {
		t.Errorf("Location should carry state: %s", w.Header().Get("Location"))
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.createMeme(t, "alice", "counted", "Gaming")

	if w := s.do(http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	w := s.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{
		`memebox_memes_created_total{category="Gaming"} 1`,
		`memebox_http_requests_total{method="POST",route="/api/memes`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/memes", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:4200" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestRouter_RevokeSessions(t *testing.T) {
	s := newTestServer(t)

	if w := s.do(http.MethodDelete, "/api/users/me/sessions", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("without session status = %d, want 401", w.Code)
	}

	w := s.do(http.MethodDelete, "/api/users/me/sessions", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"revoked":true`) {
		t.Errorf("body = %s", w.Body.String())
	}

	// ユーザー自体の削除エンドポイントは存在しない
	if w := s.do(http.MethodDelete, "/api/users/me", "alice", ""); w.Code != http.StatusNotFound {
		t.Errorf("DELETE /api/users/me status = %d, want 404", w.Code)
	}
}
