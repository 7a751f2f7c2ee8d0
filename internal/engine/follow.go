package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/cache"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/eventbus"
	"github.com/annel0/reef-world/internal/logging"
)

// Параметры следования.
const (
	MinFollowDistance     = 5.0
	MaxFollowDistance     = 50.0
	DefaultFollowDistance = 10.0
	FollowTolerance       = 2.0
	FollowTickInterval    = 2 * time.Second
	MaxFollowSpeed        = 30.0 // единиц в секунду
)

// StartFollowing создает отношение следования follower -> target.
// Отношение живет только в hot cache с TTL и самоизлечивается:
// при выходе любой из сторон из мира тик просто удаляет его.
func (e *Engine) StartFollowing(ctx context.Context, followerID, targetID string, distance float64) (*entity.FollowRelation, error) {
	if followerID == targetID {
		return nil, apperr.New(apperr.KindState, "агент %s не может следовать за собой", followerID)
	}

	follower, err := e.agents.GetByID(ctx, followerID)
	if err != nil {
		return nil, err
	}
	if !follower.Active {
		return nil, apperr.New(apperr.KindState, "агент %s вне мира", followerID)
	}
	target, err := e.agents.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !target.Active {
		return nil, apperr.New(apperr.KindState, "цель %s вне мира", targetID)
	}

	switch {
	case distance == 0:
		distance = DefaultFollowDistance
	case distance < MinFollowDistance:
		distance = MinFollowDistance
	case distance > MaxFollowDistance:
		distance = MaxFollowDistance
	}

	rel := &entity.FollowRelation{
		FollowerID: followerID,
		TargetID:   targetID,
		Distance:   distance,
		CreatedAt:  e.now(),
	}
	data, err := json.Marshal(rel)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка сериализации отношения следования")
	}
	// Отношение живет только в кеше, деградировать некуда.
	if err := e.cache.Set(ctx, followKey(followerID), data, FollowTTL); err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "hot cache недоступен, следование не запущено")
	}

	e.publish(ctx, eventbus.NewWorldEvent(eventbus.EventFollowStarted, 3, eventbus.FollowPayload{
		FollowerID: followerID,
		TargetID:   targetID,
		Distance:   distance,
	}))

	logging.Info("🐟 Агент %s следует за %s на дистанции %.1f", followerID, targetID, distance)
	return rel, nil
}

// StopFollowing удаляет отношение следования. Идемпотентна.
func (e *Engine) StopFollowing(ctx context.Context, followerID string) error {
	if err := e.cache.Delete(ctx, followKey(followerID)); err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "hot cache недоступен")
	}
	e.publish(ctx, eventbus.NewWorldEvent(eventbus.EventFollowStopped, 3, eventbus.FollowPayload{
		FollowerID: followerID,
	}))
	return nil
}

// FollowController продвигает всех follower'ов к их целям на фиксированном
// тике. Каждое отношение обрабатывается изолированно: ошибка по одному
// follower'у логируется и не прерывает обход.
type FollowController struct {
	engine   *Engine
	interval time.Duration
	pageSize int64

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewFollowController создает контроллер следования со стандартным тиком.
func NewFollowController(e *Engine) *FollowController {
	return &FollowController{
		engine:   e,
		interval: FollowTickInterval,
		pageSize: 100,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start запускает периодический тик в отдельной горутине.
func (fc *FollowController) Start() {
	go fc.loop()
	logging.Info("FollowController запущен (тик %v)", fc.interval)
}

// Stop останавливает тик и дожидается завершения текущей итерации.
func (fc *FollowController) Stop() {
	fc.once.Do(func() { close(fc.quit) })
	<-fc.done
}

func (fc *FollowController) loop() {
	defer close(fc.done)
	ticker := time.NewTicker(fc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fc.Tick(context.Background())
		case <-fc.quit:
			return
		}
	}
}

// Tick обходит все живые отношения следования и двигает follower'ов.
// Экспортирован для детерминированных тестов.
func (fc *FollowController) Tick(ctx context.Context) {
	e := fc.engine
	var cursor uint64
	for {
		keys, next, err := e.cache.Scan(ctx, "follow:*", cursor, fc.pageSize)
		if err != nil {
			logging.Warn("Тик следования: hot cache недоступен: %v", err)
			return
		}
		for _, key := range keys {
			fc.advance(ctx, key)
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

// advance обрабатывает одно отношение следования.
func (fc *FollowController) advance(ctx context.Context, key string) {
	e := fc.engine

	data, err := e.cache.Get(ctx, key)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			logging.Warn("Тик следования: ошибка чтения %s: %v", key, err)
		}
		return
	}

	var rel entity.FollowRelation
	if err := json.Unmarshal(data, &rel); err != nil {
		logging.Warn("Тик следования: повреждённое отношение %s, удаляем: %v", key, err)
		_ = e.cache.Delete(ctx, key)
		return
	}

	// Удаляем отношение только когда сторона действительно исчезла или вне
	// мира. Временный сбой durable-хранилища пропускает тик, TTL ограничит
	// время жизни осиротевшего отношения.
	follower, err := e.agents.GetByID(ctx, rel.FollowerID)
	if err != nil {
		if apperr.IsNotFound(err) {
			fc.discard(ctx, key, rel.FollowerID)
		} else {
			logging.Warn("Тик следования: ошибка чтения агента %s, пропускаем: %v", rel.FollowerID, err)
		}
		return
	}
	if !follower.Active {
		fc.discard(ctx, key, rel.FollowerID)
		return
	}
	target, err := e.agents.GetByID(ctx, rel.TargetID)
	if err != nil {
		if apperr.IsNotFound(err) {
			fc.discard(ctx, key, rel.FollowerID)
		} else {
			logging.Warn("Тик следования: ошибка чтения агента %s, пропускаем: %v", rel.TargetID, err)
		}
		return
	}
	if !target.Active {
		fc.discard(ctx, key, rel.FollowerID)
		return
	}

	// Авторитетная позиция может быть свежее durable-записи.
	followerPos, _ := e.authoritative(ctx, follower)
	targetPos, _ := e.authoritative(ctx, target)

	dist := followerPos.DistanceTo(targetPos)
	if dist <= rel.Distance+FollowTolerance {
		return
	}

	// Двигаемся к цели, но не ближе желаемой дистанции.
	step := dist - rel.Distance
	maxStep := MaxFollowSpeed * fc.interval.Seconds()
	if step > maxStep {
		step = maxStep
	}

	dir := targetPos.Sub(followerPos).Normalized()
	newPos := followerPos.Add(dir.Mul(step))
	velocity := dir.Mul(step / fc.interval.Seconds())

	_, err = e.Move(ctx, MoveRequest{
		AgentID:   rel.FollowerID,
		Position:  newPos,
		Velocity:  velocity,
		Animation: string(entity.AnimSwim),
	})
	if err != nil {
		logging.Warn("Тик следования: движение %s не прошло: %v", rel.FollowerID, err)
		return
	}
	followMoves.Inc()
}

// discard удаляет самоизлечивающееся отношение, когда одна из сторон
// покинула мир или исчезла.
func (fc *FollowController) discard(ctx context.Context, key, followerID string) {
	if err := fc.engine.cache.Delete(ctx, key); err != nil {
		logging.Warn("Тик следования: не удалось удалить отношение %s: %v", key, err)
		return
	}
	logging.Debug("Отношение следования %s удалено (сторона вне мира)", followerID)
}
