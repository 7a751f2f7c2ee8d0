package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/cache"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/eventbus"
	"github.com/annel0/reef-world/internal/logging"
	"github.com/annel0/reef-world/internal/storage"
	"github.com/annel0/reef-world/internal/vec"
	"github.com/annel0/reef-world/internal/world"
	"github.com/google/uuid"
)

// TTL записей hot cache.
const (
	PositionTTL = 300 * time.Second
	FollowTTL   = 3600 * time.Second
)

// Engine — ядро мира: авторитетный путь движения, жизненный цикл агентов,
// пространственные запросы и строительство. Все записи позиций проходят
// через валидацию границ и скорости; hot cache используется как
// низколатентное зеркало и при недоступности деградирует до
// durable-хранилища с предупреждением в логе.
type Engine struct {
	agents     storage.AgentRepo
	structures storage.StructureRepo
	cache      cache.CacheRepo
	bus        eventbus.EventBus
	bounds     world.Bounds
	spawn      *world.SpawnPicker
	now        func() time.Time
}

// NewEngine создает движок мира с явными зависимостями.
func NewEngine(agents storage.AgentRepo, structures storage.StructureRepo, hot cache.CacheRepo, bus eventbus.EventBus, spawn *world.SpawnPicker) *Engine {
	return &Engine{
		agents:     agents,
		structures: structures,
		cache:      hot,
		bus:        bus,
		bounds:     world.DefaultBounds(),
		spawn:      spawn,
		now:        time.Now,
	}
}

// positionSnapshot — сериализованное зеркало позиции в hot cache (ключ pos:<id>).
type positionSnapshot struct {
	AgentID     string             `json:"agent_id"`
	Position    vec.Vec3           `json:"position"`
	Velocity    vec.Vec3           `json:"velocity"`
	Orientation entity.Orientation `json:"orientation"`
	Animation   entity.Animation   `json:"animation"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func posKey(agentID string) string    { return "pos:" + agentID }
func followKey(agentID string) string { return "follow:" + agentID }

// MoveRequest — запрос движения от слоя запросов.
type MoveRequest struct {
	AgentID     string
	Position    vec.Vec3
	Velocity    vec.Vec3
	Orientation entity.Orientation
	Animation   string // пустая строка означает idle
}

// MoveResult — итог авторитетного движения.
type MoveResult struct {
	Position  vec.Vec3
	Animation entity.Animation
	Clamped   bool
}

// Move проводит запрос движения через валидацию и записывает авторитетную
// позицию в durable-хранилище и hot cache, затем публикует agent.moved.
// Позиции last-write-wins: конкурентные запросы по одному агенту не
// сериализуются, побеждает последняя попавшая запись.
func (e *Engine) Move(ctx context.Context, req MoveRequest) (*MoveResult, error) {
	if req.AgentID == "" {
		return nil, apperr.New(apperr.KindValidation, "пустой идентификатор агента")
	}
	if !req.Position.IsFinite() {
		return nil, apperr.New(apperr.KindValidation, "координаты позиции должны быть конечными числами")
	}
	if !req.Velocity.IsFinite() {
		return nil, apperr.New(apperr.KindValidation, "координаты скорости должны быть конечными числами")
	}
	anim, err := entity.ParseAnimation(req.Animation)
	if err != nil {
		return nil, err
	}

	agent, err := e.agents.GetByID(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, apperr.New(apperr.KindState, "агент %s вне мира", req.AgentID)
	}

	prev, prevAt := e.authoritative(ctx, agent)
	// Минимальный elapsed защищает от чрезмерного ограничения скорости
	// при плотных последовательных запросах.
	elapsed := e.now().Sub(prevAt).Seconds()
	if elapsed < world.DefaultElapsed {
		elapsed = world.DefaultElapsed
	}

	moved := world.ValidateMove(req.Position, prev, elapsed, e.bounds, world.MaxSpeed)
	if moved.Clamped {
		logging.Debug("Движение агента %s ограничено: %+v -> %+v", req.AgentID, req.Position, moved.Position)
		moveClamps.Inc()
	}

	if err := e.agents.UpsertPosition(ctx, req.AgentID, moved.Position, req.Velocity, req.Orientation, anim); err != nil {
		return nil, err
	}

	snap := positionSnapshot{
		AgentID:     req.AgentID,
		Position:    moved.Position,
		Velocity:    req.Velocity,
		Orientation: req.Orientation,
		Animation:   anim,
		UpdatedAt:   e.now(),
	}
	e.putSnapshot(ctx, snap)

	e.publish(ctx, eventbus.NewWorldEvent(eventbus.EventAgentMoved, 3, eventbus.AgentMovedPayload{
		AgentID:   req.AgentID,
		Position:  moved.Position,
		Velocity:  req.Velocity,
		Animation: string(anim),
		Clamped:   moved.Clamped,
	}))

	moves.Inc()
	logging.LogAgentMovement(req.AgentID,
		[3]float64{prev.X, prev.Y, prev.Z},
		[3]float64{moved.Position.X, moved.Position.Y, moved.Position.Z})
	return &MoveResult{Position: moved.Position, Animation: anim, Clamped: moved.Clamped}, nil
}

// authoritative возвращает предыдущую авторитетную позицию агента и время
// её записи: сперва из hot cache, при промахе или недоступности из
// durable-записи.
func (e *Engine) authoritative(ctx context.Context, agent *entity.Agent) (vec.Vec3, time.Time) {
	data, err := e.cache.Get(ctx, posKey(agent.ID))
	if err == nil {
		var snap positionSnapshot
		if jerr := json.Unmarshal(data, &snap); jerr == nil {
			return snap.Position, snap.UpdatedAt
		}
		logging.Warn("Повреждённый снимок позиции %s в кеше, используем durable-запись", agent.ID)
	} else if !cache.IsCacheMiss(err) {
		logging.Warn("Hot cache недоступен при чтении позиции %s: %v", agent.ID, err)
	}
	return agent.Position, agent.UpdatedAt
}

// putSnapshot пишет снимок позиции в hot cache.
// Недоступность кеша не фатальна: деградируем до durable-хранилища.
func (e *Engine) putSnapshot(ctx context.Context, snap positionSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		logging.Error("Ошибка сериализации снимка позиции %s: %v", snap.AgentID, err)
		return
	}
	if err := e.cache.Set(ctx, posKey(snap.AgentID), data, PositionTTL); err != nil {
		logging.Warn("Hot cache недоступен при записи позиции %s: %v", snap.AgentID, err)
	}
}

// publish отправляет событие в шину; ошибки доставки не фатальны.
func (e *Engine) publish(ctx context.Context, ev *eventbus.Envelope) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		logging.Warn("Событие %s не опубликовано: %v", ev.EventType, err)
	}
}

// Register создает durable-запись агента (вне мира, точка спауна по
// умолчанию). Вызывается коллаборатором на регистрации.
func (e *Engine) Register(ctx context.Context, name string) (*entity.Agent, error) {
	if name == "" || len(name) > 100 {
		return nil, apperr.New(apperr.KindValidation, "имя агента должно быть непустым и не длиннее 100 символов")
	}

	agent := &entity.Agent{
		ID:        uuid.NewString(),
		Name:      name,
		Position:  world.DefaultSpawn,
		Animation: entity.AnimIdle,
		Active:    false,
	}
	if err := e.agents.Create(ctx, agent); err != nil {
		return nil, err
	}
	logging.Info("🐠 Агент %s (%s) зарегистрирован", agent.ID, name)
	return agent, nil
}

// Enter вводит агента в мир: выбирает точку спауна на рельефе дна,
// включает активность и засевает hot cache.
func (e *Engine) Enter(ctx context.Context, agentID string) (*entity.Agent, error) {
	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Active {
		return nil, apperr.New(apperr.KindState, "агент %s уже в мире", agentID)
	}

	spawn := world.DefaultSpawn
	if e.spawn != nil {
		spawn = e.spawn.Pick()
	}

	if err := e.agents.SetActive(ctx, agentID, true); err != nil {
		return nil, err
	}
	if err := e.agents.UpsertPosition(ctx, agentID, spawn, vec.Vec3{}, entity.Orientation{}, entity.AnimIdle); err != nil {
		return nil, err
	}

	e.putSnapshot(ctx, positionSnapshot{
		AgentID:   agentID,
		Position:  spawn,
		Animation: entity.AnimIdle,
		UpdatedAt: e.now(),
	})

	e.publish(ctx, eventbus.NewWorldEvent(eventbus.EventAgentEntered, 5, eventbus.AgentLifecyclePayload{
		AgentID:  agentID,
		Name:     agent.Name,
		Position: spawn,
	}))

	logging.Info("🌊 Агент %s вошел в мир на %+v", agentID, spawn)
	agent.Active = true
	agent.Position = spawn
	agent.Velocity = vec.Vec3{}
	agent.Animation = entity.AnimIdle
	return agent, nil
}

// Exit выводит агента из мира: выключает активность, удаляет записи
// hot cache (позицию и отношение следования) и публикует agent.left.
func (e *Engine) Exit(ctx context.Context, agentID string) error {
	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		return err
	}
	if !agent.Active {
		return apperr.New(apperr.KindState, "агент %s уже вне мира", agentID)
	}

	if err := e.agents.SetActive(ctx, agentID, false); err != nil {
		return err
	}
	e.dropCacheKeys(ctx, agentID)

	e.publish(ctx, eventbus.NewWorldEvent(eventbus.EventAgentLeft, 5, eventbus.AgentLifecyclePayload{
		AgentID:  agentID,
		Name:     agent.Name,
		Position: agent.Position,
		Reason:   "exit",
	}))

	logging.Info("👋 Агент %s покинул мир", agentID)
	return nil
}

// RemoveAgent удаляет durable-запись агента. Его структуры остаются
// в мире без владельца.
func (e *Engine) RemoveAgent(ctx context.Context, agentID string) error {
	if err := e.agents.Delete(ctx, agentID); err != nil {
		return err
	}
	if err := e.structures.ClearOwner(ctx, agentID); err != nil {
		return err
	}
	e.dropCacheKeys(ctx, agentID)
	logging.Info("Агент %s удален, его структуры остались без владельца", agentID)
	return nil
}

// GetAgent возвращает durable-запись агента.
func (e *Engine) GetAgent(ctx context.Context, agentID string) (*entity.Agent, error) {
	return e.agents.GetByID(ctx, agentID)
}

// ResolveAgent находит агента по человекочитаемому имени.
func (e *Engine) ResolveAgent(ctx context.Context, name string) (*entity.Agent, error) {
	return e.agents.GetByName(ctx, name)
}

// WorldState возвращает активных агентов и все структуры мира.
// Используется для снятия снимков и административных запросов.
func (e *Engine) WorldState(ctx context.Context) ([]*entity.Agent, []*entity.Structure, error) {
	agents, err := e.agents.ListActive(ctx)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInfrastructure, err, "не удалось получить активных агентов")
	}
	structures, err := e.structures.List(ctx)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInfrastructure, err, "не удалось получить структуры")
	}
	return agents, structures, nil
}

// CacheMetrics возвращает метрики hot cache.
func (e *Engine) CacheMetrics() *cache.CacheMetrics {
	return e.cache.GetMetrics()
}

// dropCacheKeys удаляет записи hot cache агента; недоступность кеша
// не фатальна, TTL доест осиротевшие записи.
func (e *Engine) dropCacheKeys(ctx context.Context, agentID string) {
	if err := e.cache.Delete(ctx, posKey(agentID)); err != nil {
		logging.Warn("Не удалось удалить pos-ключ агента %s: %v", agentID, err)
	}
	if err := e.cache.Delete(ctx, followKey(agentID)); err != nil {
		logging.Warn("Не удалось удалить follow-ключ агента %s: %v", agentID, err)
	}
}
