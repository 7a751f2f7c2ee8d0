package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/engine"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/eventbus"
	"github.com/annel0/reef-world/internal/logging"
	"github.com/annel0/reef-world/internal/middleware"
	"github.com/annel0/reef-world/internal/observability"
	"github.com/annel0/reef-world/internal/storage"
	"github.com/annel0/reef-world/internal/vec"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer представляет REST API сервер мира
type RestServer struct {
	router     *gin.Engine
	engine     *engine.Engine
	bus        eventbus.EventBus
	snapshots  *storage.SnapshotStore
	forwarder  *EventForwarder
	port       string
	metrics    *ServerMetrics
	httpServer *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port      string                 // порт для запуска сервера
	Engine    *engine.Engine         // движок мира
	Bus       eventbus.EventBus      // шина событий
	Snapshots *storage.SnapshotStore // архив снимков, может быть nil
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8080"
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	otelRouter := otelgin.Middleware("rest_api")
	router.Use(otelRouter)

	promMw := middleware.NewPrometheusMiddleware("rest_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:    router,
		engine:    config.Engine,
		bus:       config.Bus,
		snapshots: config.Snapshots,
		forwarder: NewEventForwarder("reef_world_01", config.Bus),
		port:      config.Port,
		metrics:   NewServerMetrics(),
	}

	// Настраиваем маршруты
	server.setupRoutes()

	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Agent-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Группа API
	api := rs.router.Group("/api")
	{
		// Жизненный цикл агентов
		api.POST("/agents", rs.handleRegister)
		api.GET("/agents/:id", rs.handleGetAgent)
		api.DELETE("/agents/:id", rs.handleRemoveAgent)
		api.GET("/agents/by-name/:name", rs.handleResolveAgent)
		api.POST("/agents/:id/enter", rs.handleEnter)
		api.POST("/agents/:id/exit", rs.handleExit)

		// Движение и окружение
		api.POST("/agents/:id/move", rs.handleMove)
		api.GET("/agents/:id/nearby", rs.handleNearby)

		// Следование
		api.POST("/agents/:id/follow", rs.handleStartFollow)
		api.DELETE("/agents/:id/follow", rs.handleStopFollow)

		// Структуры
		api.POST("/structures", rs.handleBuild)
		api.GET("/structures/:id", rs.handleGetStructure)
		api.PATCH("/structures/:id", rs.handlePatchStructure)
		api.DELETE("/structures/:id", rs.handleDeleteStructure)

		// Статистика
		api.GET("/stats", rs.handleStats)
		api.GET("/server", rs.handleServerInfo)

		// Административные эндпоинты
		admin := api.Group("/admin")
		{
			admin.POST("/snapshots", rs.handleTakeSnapshot)
			admin.GET("/snapshots", rs.handleListSnapshots)
			admin.POST("/snapshots/prune", rs.handlePruneSnapshots)

			// Управление исходящими webhook'ами
			admin.GET("/webhooks", rs.handleGetWebhooks)
			admin.POST("/webhooks", rs.handleCreateWebhook)
			admin.GET("/webhooks/:id", rs.handleGetWebhook)
			admin.PUT("/webhooks/:id", rs.handleUpdateWebhook)
			admin.DELETE("/webhooks/:id", rs.handleDeleteWebhook)
			admin.GET("/webhooks/events", rs.handleGetWebhookEventTypes)
		}
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// writeError переводит классифицированную ошибку движка в HTTP-статус.
// Неклассифицированные ошибки считаются инфраструктурными.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindState, apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindInfrastructure:
		status = http.StatusInternalServerError
	}
	c.JSON(status, GenericResponse{
		Success: false,
		Message: err.Error(),
	})
}

// RegisterRequest представляет запрос на регистрацию агента
type RegisterRequest struct {
	Name string `json:"name" binding:"required"`
}

// handleRegister регистрирует нового агента (вне мира, до первого входа)
func (rs *RestServer) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса: " + err.Error(),
		})
		return
	}

	agent, err := rs.engine.Register(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Агент зарегистрирован",
		Data:    agent,
	})
}

// handleGetAgent возвращает durable-запись агента
func (rs *RestServer) handleGetAgent(c *gin.Context) {
	agent, err := rs.engine.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Агент найден",
		Data:    agent,
	})
}

// handleResolveAgent находит агента по имени
func (rs *RestServer) handleResolveAgent(c *gin.Context) {
	agent, err := rs.engine.ResolveAgent(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Агент найден",
		Data:    agent,
	})
}

// handleRemoveAgent удаляет агента из мира; его структуры остаются без владельца
func (rs *RestServer) handleRemoveAgent(c *gin.Context) {
	if err := rs.engine.RemoveAgent(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Агент удален",
	})
}

// handleEnter вводит агента в мир на точке спавна
func (rs *RestServer) handleEnter(c *gin.Context) {
	agent, err := rs.engine.Enter(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Агент вошел в мир",
		Data:    agent,
	})
}

// handleExit выводит агента из мира
func (rs *RestServer) handleExit(c *gin.Context) {
	if err := rs.engine.Exit(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Агент покинул мир",
	})
}

// MoveBody представляет тело запроса движения
type MoveBody struct {
	Position    vec.Vec3           `json:"position"`
	Velocity    vec.Vec3           `json:"velocity"`
	Orientation entity.Orientation `json:"orientation"`
	Animation   string             `json:"animation"`
}

// handleMove проводит запрос движения через авторитетную валидацию.
// Ответ содержит принятую позицию: при срезании скорости или границ
// она отличается от запрошенной, и клиент обязан принять ее.
func (rs *RestServer) handleMove(c *gin.Context) {
	var body MoveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса: " + err.Error(),
		})
		return
	}

	result, err := rs.engine.Move(c.Request.Context(), engine.MoveRequest{
		AgentID:     c.Param("id"),
		Position:    body.Position,
		Velocity:    body.Velocity,
		Orientation: body.Orientation,
		Animation:   body.Animation,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Позиция принята",
		Data: map[string]interface{}{
			"position":  result.Position,
			"animation": result.Animation,
			"clamped":   result.Clamped,
		},
	})
}

// handleNearby возвращает агентов и структуры вокруг агента.
// Радиус задается query-параметром radius; 0 означает радиус по умолчанию.
func (rs *RestServer) handleNearby(c *gin.Context) {
	agentID := c.Param("id")
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "0"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный радиус: " + c.Query("radius"),
		})
		return
	}

	agents, structures, err := rs.engine.NearbyFor(c.Request.Context(), agentID, radius)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Окружение получено",
		Data: map[string]interface{}{
			"agents":     agents,
			"structures": structures,
		},
	})
}

// FollowBody представляет запрос на следование
type FollowBody struct {
	TargetID string  `json:"target_id" binding:"required"`
	Distance float64 `json:"distance"` // 0 означает дистанцию по умолчанию
}

// handleStartFollow запускает следование агента за целью
func (rs *RestServer) handleStartFollow(c *gin.Context) {
	var body FollowBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса: " + err.Error(),
		})
		return
	}

	rel, err := rs.engine.StartFollowing(c.Request.Context(), c.Param("id"), body.TargetID, body.Distance)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Следование запущено",
		Data:    rel,
	})
}

// handleStopFollow останавливает следование; повторный вызов не ошибка
func (rs *RestServer) handleStopFollow(c *gin.Context) {
	if err := rs.engine.StopFollowing(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Следование остановлено",
	})
}

// BuildBody представляет запрос на постройку структуры
type BuildBody struct {
	OwnerID     string      `json:"owner_id" binding:"required"`
	Name        string      `json:"name" binding:"required"`
	Type        string      `json:"type" binding:"required"`
	Material    string      `json:"material" binding:"required"`
	Position    vec.Vec3    `json:"position"`
	Size        entity.Size `json:"size"`
	ExternalRef string      `json:"external_ref"`
}

// handleBuild создает структуру после проверки пересечений
func (rs *RestServer) handleBuild(c *gin.Context) {
	var body BuildBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса: " + err.Error(),
		})
		return
	}

	structure, err := rs.engine.Build(c.Request.Context(), engine.BuildRequest{
		OwnerID:     body.OwnerID,
		Name:        body.Name,
		Type:        body.Type,
		Material:    body.Material,
		Position:    body.Position,
		Size:        body.Size,
		ExternalRef: body.ExternalRef,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Структура построена",
		Data:    structure,
	})
}

// handleGetStructure возвращает структуру по идентификатору
func (rs *RestServer) handleGetStructure(c *gin.Context) {
	structure, err := rs.engine.GetStructure(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Структура найдена",
		Data:    structure,
	})
}

// requireAgentHeader извлекает идентификатор действующего агента из
// заголовка X-Agent-ID. Владение проверяет движок.
func requireAgentHeader(c *gin.Context) (string, bool) {
	agentID := c.GetHeader("X-Agent-ID")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Отсутствует заголовок X-Agent-ID",
		})
		return "", false
	}
	return agentID, true
}

// handlePatchStructure изменяет поля структуры; разрешено только владельцу
func (rs *RestServer) handlePatchStructure(c *gin.Context) {
	agentID, ok := requireAgentHeader(c)
	if !ok {
		return
	}

	var patch entity.StructurePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса: " + err.Error(),
		})
		return
	}

	structure, err := rs.engine.PatchStructure(c.Request.Context(), c.Param("id"), agentID, patch)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Структура обновлена",
		Data:    structure,
	})
}

// handleDeleteStructure удаляет структуру; разрешено только владельцу
func (rs *RestServer) handleDeleteStructure(c *gin.Context) {
	agentID, ok := requireAgentHeader(c)
	if !ok {
		return
	}

	if err := rs.engine.DeleteStructure(c.Request.Context(), c.Param("id"), agentID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Структура удалена",
	})
}

// handleStats возвращает статистику мира и сервера
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	// Статистика мира
	agents, structures, err := rs.engine.WorldState(c.Request.Context())
	if err == nil {
		stats["world"] = map[string]interface{}{
			"active_agents": len(agents),
			"structures":    len(structures),
		}
	}

	// Метрики hot cache
	stats["cache"] = rs.engine.CacheMetrics()

	// Метрики шины событий
	if rs.bus != nil {
		stats["events"] = rs.bus.Metrics()
	}

	// Метрики процесса
	stats["server"] = rs.metrics.ProcessStats()
	stats["memory_details"] = rs.metrics.DetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// handleServerInfo возвращает информацию о сервере
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	memoryMB, _ := rs.metrics.MemoryUsage()
	cpuPercent, _ := rs.metrics.CPUUsage()

	info := map[string]interface{}{
		"version":     "v" + observability.Version,
		"name":        "Reef World Server",
		"status":      "running",
		"uptime":      rs.metrics.Uptime(),
		"memory_mb":   memoryMB,
		"cpu_percent": cpuPercent,
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    info,
	})
}

// handleTakeSnapshot снимает полный снимок мира в архив
func (rs *RestServer) handleTakeSnapshot(c *gin.Context) {
	if rs.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Архив снимков не настроен",
		})
		return
	}

	agents, structures, err := rs.engine.WorldState(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	id, err := rs.snapshots.Save(c.Request.Context(), &storage.WorldSnapshot{
		TakenAt:    time.Now().UTC(),
		Agents:     agents,
		Structures: structures,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Снимок сохранен",
		Data: map[string]interface{}{
			"id":         id,
			"agents":     len(agents),
			"structures": len(structures),
		},
	})
}

// handleListSnapshots возвращает список снимков в архиве
func (rs *RestServer) handleListSnapshots(c *gin.Context) {
	if rs.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Архив снимков не настроен",
		})
		return
	}

	infos, err := rs.snapshots.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список снимков получен",
		Data: map[string]interface{}{
			"snapshots": infos,
			"total":     len(infos),
		},
	})
}

// PruneBody представляет запрос на очистку архива снимков
type PruneBody struct {
	Keep int `json:"keep" binding:"required"`
}

// handlePruneSnapshots удаляет старые снимки, оставляя keep свежих
func (rs *RestServer) handlePruneSnapshots(c *gin.Context) {
	if rs.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Архив снимков не настроен",
		})
		return
	}

	var body PruneBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Keep < 1 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Поле keep должно быть положительным",
		})
		return
	}

	removed, err := rs.snapshots.Prune(c.Request.Context(), body.Keep)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Архив очищен",
		Data: map[string]interface{}{
			"removed": removed,
			"kept":    body.Keep,
		},
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Start запускает REST сервер в отдельной горутине
func (rs *RestServer) Start() error {
	if err := rs.forwarder.Start(); err != nil {
		return err
	}

	rs.httpServer = &http.Server{
		Addr:    rs.port,
		Handler: rs.router,
	}

	go func() {
		if err := rs.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Ошибка REST API сервера: %v", err)
		}
	}()

	logging.Info("✅ REST API сервер запущен на %s", rs.port)
	return nil
}

// Stop останавливает REST сервер с ожиданием активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.forwarder.Stop()

	if rs.httpServer == nil {
		return nil
	}
	return rs.httpServer.Shutdown(ctx)
}

// ===== Webhook эндпоинты =====

// handleGetWebhooks возвращает список исходящих webhook'ов
func (rs *RestServer) handleGetWebhooks(c *gin.Context) {
	webhooks := rs.forwarder.Webhooks()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список webhook'ов получен",
		Data: map[string]interface{}{
			"webhooks": webhooks,
			"total":    len(webhooks),
		},
	})
}

// handleCreateWebhook создает новый исходящий webhook
func (rs *RestServer) handleCreateWebhook(c *gin.Context) {
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат webhook'а: " + err.Error(),
		})
		return
	}

	created := rs.forwarder.AddWebhook(webhook)

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Webhook создан",
		Data:    created,
	})
}

// handleGetWebhook возвращает webhook по ID
func (rs *RestServer) handleGetWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	webhook := rs.forwarder.Webhook(id)
	if webhook == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook найден",
		Data:    webhook,
	})
}

// handleUpdateWebhook обновляет webhook
func (rs *RestServer) handleUpdateWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	var updates OutboundWebhook
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат обновлений: " + err.Error(),
		})
		return
	}

	updated := rs.forwarder.UpdateWebhook(id, updates)
	if updated == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook обновлен",
		Data:    updated,
	})
}

// handleDeleteWebhook удаляет webhook
func (rs *RestServer) handleDeleteWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	if !rs.forwarder.DeleteWebhook(id) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook удален",
	})
}

// handleGetWebhookEventTypes возвращает доступные типы событий
func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	eventTypes := rs.forwarder.EventTypes()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Типы событий получены",
		Data: map[string]interface{}{
			"event_types": eventTypes,
			"total":       len(eventTypes),
		},
	})
}
