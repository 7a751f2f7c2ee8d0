package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMiddleware собирает HTTP-метрики REST API мира.
// Помимо стандартной тройки duration/inflight/errors ведётся счётчик по
// операциям мира: дашборды строятся вокруг move/nearby/build, а не вокруг
// сырых путей с ID внутри.
//
// Метрики:
// * <service>_http_request_duration_seconds{method,path,status}
// * <service>_http_requests_inflight
// * <service>_http_request_errors_total{method,path,status}
// * <service>_world_operation_requests_total{operation,status}

type PrometheusMiddleware struct {
	reqDuration *prometheus.HistogramVec
	reqInflight prometheus.Gauge
	reqErrors   *prometheus.CounterVec
	worldOps    *prometheus.CounterVec
}

// NewPrometheusMiddleware создаёт middleware и регистрирует метрики в дефолтном регистре.
func NewPrometheusMiddleware(service string) *PrometheusMiddleware {
	pm := &PrometheusMiddleware{
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: service,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность HTTP-запросов к API мира.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "path", "status"}),
		reqInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: service,
			Name:      "http_requests_inflight",
			Help:      "Текущее количество обрабатываемых HTTP-запросов.",
		}),
		reqErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: service,
			Name:      "http_request_errors_total",
			Help:      "Запросы, завершившиеся ошибкой (4xx/5xx).",
		}, []string{"method", "path", "status"}),
		worldOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: service,
			Name:      "world_operation_requests_total",
			Help:      "Запросы по операциям мира (move, nearby, build и т.д.).",
		}, []string{"operation", "status"}),
	}

	prometheus.MustRegister(pm.reqDuration, pm.reqInflight, pm.reqErrors, pm.worldOps)
	return pm
}

// operationFromRoute сводит gin-маршрут к имени операции мира.
// Неизвестные маршруты попадают в "other", чтобы кардинальность
// метрики оставалась фиксированной.
func operationFromRoute(method, route string) string {
	switch {
	case strings.HasSuffix(route, "/move"):
		return "move"
	case strings.HasSuffix(route, "/nearby"):
		return "nearby"
	case strings.HasSuffix(route, "/enter"):
		return "enter"
	case strings.HasSuffix(route, "/exit"):
		return "exit"
	case strings.HasSuffix(route, "/follow"):
		if method == "DELETE" {
			return "unfollow"
		}
		return "follow"
	case strings.HasPrefix(route, "/api/structures"):
		switch method {
		case "POST":
			return "build"
		case "PATCH":
			return "patch_structure"
		case "DELETE":
			return "remove_structure"
		}
		return "get_structure"
	case route == "/api/agents" && method == "POST":
		return "register"
	case strings.HasPrefix(route, "/api/agents"):
		return "get_agent"
	case strings.Contains(route, "/snapshots"):
		return "snapshot"
	case strings.Contains(route, "/webhooks"):
		return "webhook"
	case route == "/api/stats" || route == "/api/server":
		return "stats"
	}
	return "other"
}

// Handler возвращает gin.HandlerFunc, которую нужно добавить через router.Use().
func (pm *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		pm.reqInflight.Inc()
		c.Next()
		pm.reqInflight.Dec()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path // не-матченные маршруты
		}
		method := c.Request.Method

		pm.reqDuration.WithLabelValues(method, path, status).Observe(duration)
		pm.worldOps.WithLabelValues(operationFromRoute(method, path), status).Inc()

		if c.Writer.Status() >= 400 {
			pm.reqErrors.WithLabelValues(method, path, status).Inc()
		}
	}
}

// RegisterMetricsEndpoint добавляет GET /metrics в указанный router.
func (pm *PrometheusMiddleware) RegisterMetricsEndpoint(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
