package engine

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/reef-world/internal/cache"
	"github.com/annel0/reef-world/internal/eventbus"
	"github.com/annel0/reef-world/internal/vec"
)

func TestReconcilerFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("Cache To Store", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "a1", vec.Vec3{X: 0, Y: 50, Z: 0})
		w.addActiveAgent(t, "a2", vec.Vec3{X: 0, Y: 50, Z: 0})

		// Свежие снимки в кеше, durable-записи отстают
		w.seedSnapshot(t, "a1", vec.Vec3{X: 11, Y: 50, Z: 0}, time.Now())
		w.seedSnapshot(t, "a2", vec.Vec3{X: 22, Y: 50, Z: 0}, time.Now())

		r := NewReconciler(w.engine)
		r.Flush(ctx)

		for id, wantX := range map[string]float64{"a1": 11, "a2": 22} {
			agent, err := w.agents.GetByID(ctx, id)
			if err != nil {
				t.Fatalf("Ошибка чтения агента %s: %v", id, err)
			}
			if agent.Position.X != wantX {
				t.Errorf("Снимок %s не слит: x=%.1f, ожидалось %.1f", id, agent.Position.X, wantX)
			}
		}
	})

	t.Run("Corrupt Snapshot Does Not Abort Batch", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "good", vec.Vec3{X: 0, Y: 50, Z: 0})

		if err := w.cache.Set(ctx, posKey("bad"), []byte("{мусор"), PositionTTL); err != nil {
			t.Fatalf("Ошибка записи в кеш: %v", err)
		}
		w.seedSnapshot(t, "good", vec.Vec3{X: 33, Y: 50, Z: 0}, time.Now())

		r := NewReconciler(w.engine)
		r.Flush(ctx)

		agent, err := w.agents.GetByID(ctx, "good")
		if err != nil {
			t.Fatalf("Ошибка чтения агента: %v", err)
		}
		if agent.Position.X != 33 {
			t.Error("Поврежденный снимок прервал слив остальных")
		}
	})

	t.Run("Missing Row Does Not Abort Batch", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "known", vec.Vec3{X: 0, Y: 50, Z: 0})
		w.seedSnapshot(t, "unknown", vec.Vec3{X: 1, Y: 50, Z: 0}, time.Now())
		w.seedSnapshot(t, "known", vec.Vec3{X: 44, Y: 50, Z: 0}, time.Now())

		r := NewReconciler(w.engine)
		r.Flush(ctx)

		agent, err := w.agents.GetByID(ctx, "known")
		if err != nil {
			t.Fatalf("Ошибка чтения агента: %v", err)
		}
		if agent.Position.X != 44 {
			t.Error("Отсутствующая durable-запись прервала слив остальных")
		}
	})

	t.Run("Paginates Large Cache", func(t *testing.T) {
		w := newTestWorld()
		r := NewReconciler(w.engine)
		r.pageSize = 5

		for i := 0; i < 17; i++ {
			id := string(rune('a' + i))
			w.addActiveAgent(t, id, vec.Vec3{X: 0, Y: 50, Z: 0})
			w.seedSnapshot(t, id, vec.Vec3{X: 7, Y: 50, Z: 0}, time.Now())
		}

		r.Flush(ctx)

		for i := 0; i < 17; i++ {
			id := string(rune('a' + i))
			agent, err := w.agents.GetByID(ctx, id)
			if err != nil {
				t.Fatalf("Ошибка чтения агента %s: %v", id, err)
			}
			if agent.Position.X != 7 {
				t.Errorf("Агент %s пропущен при постраничном сливе", id)
			}
		}
	})
}

func TestReconcilerSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("Keeps Fresh Agents", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "fresh", vec.Vec3{X: 0, Y: 50, Z: 0})

		r := NewReconciler(w.engine)
		r.Sweep(ctx)

		agent, err := w.agents.GetByID(ctx, "fresh")
		if err != nil {
			t.Fatalf("Ошибка чтения агента: %v", err)
		}
		if !agent.Active {
			t.Error("Свежий агент выведен из мира")
		}
		if w.bus.countEvents(eventbus.EventAgentLeft) != 0 {
			t.Error("Свип дал уведомление по свежему агенту")
		}
	})

	t.Run("Deactivates Stale and Emits Once", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "stale", vec.Vec3{X: 0, Y: 50, Z: 0})

		// Агент не обновлялся 31 минуту
		w.engine.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

		r := NewReconciler(w.engine)
		r.Sweep(ctx)

		staleAgent, err := w.agents.GetByID(ctx, "stale")
		if err != nil {
			t.Fatalf("Ошибка чтения агента: %v", err)
		}
		if staleAgent.Active {
			t.Error("Устаревший агент не выведен из мира")
		}
		if w.bus.countEvents(eventbus.EventAgentLeft) != 1 {
			t.Errorf("Ожидалось ровно одно событие agent.left, получено %d", w.bus.countEvents(eventbus.EventAgentLeft))
		}

		// Повторный свип идемпотентен: второго уведомления нет
		r.Sweep(ctx)
		if w.bus.countEvents(eventbus.EventAgentLeft) != 1 {
			t.Error("Повторный свип дал второе уведомление")
		}
	})

	t.Run("Drops Cache Keys", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "stale", vec.Vec3{X: 0, Y: 50, Z: 0})
		w.seedSnapshot(t, "stale", vec.Vec3{X: 5, Y: 50, Z: 0}, time.Now())
		w.engine.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

		r := NewReconciler(w.engine)
		r.Sweep(ctx)

		if _, err := w.cache.Get(ctx, posKey("stale")); !cache.IsCacheMiss(err) {
			t.Error("Снимок позиции не удален при свипе")
		}
	})
}

// TestReconcilerStopDrains проверяет финальный слив при остановке.
func TestReconcilerStopDrains(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld()
	w.addActiveAgent(t, "a1", vec.Vec3{X: 0, Y: 50, Z: 0})
	w.seedSnapshot(t, "a1", vec.Vec3{X: 99, Y: 50, Z: 0}, time.Now())

	r := NewReconciler(w.engine)
	r.Start()
	r.Stop()

	agent, err := w.agents.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("Ошибка чтения агента: %v", err)
	}
	if agent.Position.X != 99 {
		t.Error("Финальный слив при остановке не выполнен")
	}
}
