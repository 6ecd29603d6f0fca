// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	LoginNewUser      = "new_user"
	LoginExistingUser = "existing_user"
	LoginFailure      = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordLogout()
	RecordMemeCreated(category string)
	RecordMemeDeleted()
	RecordLikeToggle(liked bool)
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins       *prometheus.CounterVec
	logouts      prometheus.Counter
	memesCreated *prometheus.CounterVec
	memesDeleted prometheus.Counter
	likeToggles  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebox_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memebox_logouts_total",
			Help: "ログアウトの合計数",
		}),
		memesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebox_memes_created_total",
			Help: "カテゴリ別の作成されたミーム数",
		}, []string{"category"}),
		memesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memebox_memes_deleted_total",
			Help: "削除されたミームの合計数",
		}),
		likeToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebox_like_toggles_total",
			Help: "操作別のいいねトグル数",
		}, []string{"action"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memebox_http_requests_total",
			Help: "ルート・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memebox_http_request_duration_seconds",
			Help:    "ルート別のHTTPリクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.logins,
		c.logouts,
		c.memesCreated,
		c.memesDeleted,
		c.likeToggles,
		c.httpRequests,
		c.httpDuration,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordMemeCreated はミーム作成を記録する。
func (c *Collector) RecordMemeCreated(category string) {
	c.memesCreated.WithLabelValues(category).Inc()
}

// RecordMemeDeleted はミーム削除を記録する。
func (c *Collector) RecordMemeDeleted() {
	c.memesDeleted.Inc()
}

// RecordLikeToggle はいいねトグルを記録する。
func (c *Collector) RecordLikeToggle(liked bool) {
	action := "unlike"
	if liked {
		action = "like"
	}
	c.likeToggles.WithLabelValues(action).Inc()
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)                                   {}
func (NopCollector) RecordLogout()                                        {}
func (NopCollector) RecordMemeCreated(string)                             {}
func (NopCollector) RecordMemeDeleted()                                   {}
func (NopCollector) RecordLikeToggle(bool)                                {}
func (NopCollector) RecordHTTPRequest(string, string, int, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// statusRecorder はレスポンスのステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware はリクエストごとにルートパターン単位でメトリクスを記録するミドルウェアを返す。
// ラベルのカーディナリティを抑えるため、実パスではなくchiのルートパターンを使う。
// マッチしなかったリクエストは"unmatched"として記録する。
func Middleware(c MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			c.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start))
		})
	}
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
