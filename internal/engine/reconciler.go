package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/annel0/reef-world/internal/eventbus"
	"github.com/annel0/reef-world/internal/logging"
)

// Периоды реконсиляции.
const (
	FlushInterval       = 30 * time.Second
	SweepInterval       = 5 * time.Minute
	InactivityThreshold = 30 * time.Minute
)

// Reconciler ведет две независимые периодические обязанности:
// слив снимков позиций из hot cache в durable-хранилище и вывод из мира
// агентов, не обновлявшихся дольше порога неактивности. Каждый элемент
// обрабатывается изолированно: поврежденная запись логируется и
// пропускается, партия продолжается.
type Reconciler struct {
	engine    *Engine
	flushTick time.Duration
	sweepTick time.Duration
	threshold time.Duration
	pageSize  int64

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewReconciler создает реконсилятор со стандартными периодами.
func NewReconciler(e *Engine) *Reconciler {
	return &Reconciler{
		engine:    e,
		flushTick: FlushInterval,
		sweepTick: SweepInterval,
		threshold: InactivityThreshold,
		pageSize:  100,
		quit:      make(chan struct{}),
	}
}

// Start запускает обе периодические обязанности.
func (r *Reconciler) Start() {
	r.wg.Add(2)
	go r.flushLoop()
	go r.sweepLoop()
	logging.Info("Reconciler запущен (слив %v, свип %v, порог %v)", r.flushTick, r.sweepTick, r.threshold)
}

// Stop останавливает таймеры, дожидается текущих итераций и выполняет
// финальный слив кеша (graceful drain).
func (r *Reconciler) Stop() {
	r.once.Do(func() { close(r.quit) })
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	r.Flush(ctx)
	logging.Info("Reconciler остановлен, финальный слив выполнен")
}

func (r *Reconciler) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.quit:
			return
		}
	}
}

func (r *Reconciler) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(context.Background())
		case <-r.quit:
			return
		}
	}
}

// Flush постранично обходит pos:* в hot cache и переносит каждый снимок
// в durable-хранилище. Экспортирован для финального слива и тестов.
func (r *Reconciler) Flush(ctx context.Context) {
	e := r.engine
	var cursor uint64
	flushed, failed := 0, 0

	for {
		keys, next, err := e.cache.Scan(ctx, "pos:*", cursor, r.pageSize)
		if err != nil {
			logging.Warn("Слив кеша: hot cache недоступен: %v", err)
			return
		}

		if len(keys) > 0 {
			values, err := e.cache.BatchGet(ctx, keys)
			if err != nil {
				logging.Warn("Слив кеша: ошибка пакетного чтения: %v", err)
				return
			}
			for key, data := range values {
				if r.flushOne(ctx, key, data) {
					flushed++
				} else {
					failed++
				}
			}
		}

		if next == 0 {
			break
		}
		cursor = next
	}

	if flushed > 0 || failed > 0 {
		logging.Debug("Слив кеша: %d снимков перенесено, %d ошибок", flushed, failed)
	}
}

// flushOne переносит один снимок позиции; ошибка не прерывает партию.
func (r *Reconciler) flushOne(ctx context.Context, key string, data []byte) bool {
	agentID := strings.TrimPrefix(key, "pos:")

	var snap positionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logging.Warn("Слив кеша: повреждённый снимок %s: %v", key, err)
		flushErrors.Inc()
		return false
	}

	err := r.engine.agents.UpsertPosition(ctx, agentID, snap.Position, snap.Velocity, snap.Orientation, snap.Animation)
	if err != nil {
		logging.Warn("Слив кеша: запись %s не перенесена: %v", agentID, err)
		flushErrors.Inc()
		return false
	}
	flushItems.Inc()
	return true
}

// Sweep выводит из мира активных агентов, не обновлявшихся дольше порога.
// Идемпотентен: выборка берет только активных, повторный свип по уже
// выведенному агенту не дает второго уведомления.
func (r *Reconciler) Sweep(ctx context.Context) {
	e := r.engine
	cutoff := e.now().Add(-r.threshold)

	stale, err := e.agents.ListActiveUpdatedBefore(ctx, cutoff)
	if err != nil {
		logging.Warn("Свип неактивности: ошибка выборки: %v", err)
		return
	}

	for _, agent := range stale {
		if err := e.agents.SetActive(ctx, agent.ID, false); err != nil {
			logging.Warn("Свип неактивности: агент %s не выведен: %v", agent.ID, err)
			continue
		}
		e.dropCacheKeys(ctx, agent.ID)
		e.publish(ctx, eventbus.NewWorldEvent(eventbus.EventAgentLeft, 5, eventbus.AgentLifecyclePayload{
			AgentID:  agent.ID,
			Name:     agent.Name,
			Position: agent.Position,
			Reason:   "inactivity",
		}))
		sweepDeactivations.Inc()
		logging.Info("💤 Агент %s выведен из мира по неактивности", agent.ID)
	}
}
