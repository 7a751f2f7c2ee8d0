package middleware

import (
	"strings"
	"time"

	"github.com/annel0/reef-world/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// RequestLogger пишет парные строки входа/выхода для каждого HTTP-запроса
// и привязывает их к trace-id. Запросы мира почти всегда делаются от имени
// агента (path-параметр :id или заголовок X-Agent-ID), поэтому агент
// попадает в обе строки: по "agent=" удобно grep'ать историю одной рыбы.

type RequestLogger struct{}

func NewRequestLogger() *RequestLogger { return &RequestLogger{} }

// actingAgent извлекает идентификатор агента, от имени которого сделан запрос.
// Приоритет у path-параметра: заголовок используют только операции над
// структурами, где агент не является частью маршрута.
func actingAgent(c *gin.Context) string {
	if id := c.Param("id"); id != "" && strings.HasPrefix(c.FullPath(), "/api/agents/") {
		return id
	}
	return c.GetHeader("X-Agent-ID")
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Если otelgin уже открыл span, переиспользуем его trace-id,
		// иначе генерируем свой, чтобы строки всё равно были связаны.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		agent := actingAgent(c)

		if agent != "" {
			logging.Info("[HTTP] ▶ %s %s agent=%s ip=%s trace=%s", method, path, agent, c.ClientIP(), traceID)
		} else {
			logging.Info("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, c.ClientIP(), traceID)
		}

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if agent != "" {
			logging.Info("[HTTP] ◀ %s %s %d %s agent=%s trace=%s", method, path, status, latency, agent, traceID)
		} else {
			logging.Info("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
		}
	}
}
