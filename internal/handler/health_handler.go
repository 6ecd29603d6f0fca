package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/hitoshi/memebox/internal/middleware"
	"github.com/hitoshi/memebox/internal/model"
)

// healthCheckTimeout は依存先1件あたりの疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存先への疎通確認インターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler は依存先（DB、Redis）の疎通を確認するハンドラー。
type HealthHandler struct {
	checkers map[string]HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。checkersのキーは依存先の名前。
func NewHealthHandler(checkers map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health はすべての依存先が応答すれば200、いずれかが応答しなければ503を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := h.checkers[name].PingContext(ctx)
		cancel()
		if err != nil {
			slog.Error("health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			checks[name] = "unavailable"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		middleware.WriteAPIError(w, model.NewServiceUnavailableError())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: checks})
}
