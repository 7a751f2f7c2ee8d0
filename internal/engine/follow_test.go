package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/cache"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/storage"
	"github.com/annel0/reef-world/internal/vec"
)

func TestStartFollowing(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy Path", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "follower", vec.Vec3{X: 0, Y: 50, Z: 0})
		w.addActiveAgent(t, "target", vec.Vec3{X: 20, Y: 50, Z: 0})

		rel, err := w.engine.StartFollowing(ctx, "follower", "target", 15)
		if err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}
		if rel.Distance != 15 {
			t.Errorf("Неверная дистанция: %.1f", rel.Distance)
		}
		if _, err := w.cache.Get(ctx, followKey("follower")); err != nil {
			t.Errorf("Отношение не записано в кеш: %v", err)
		}
	})

	t.Run("Self Follow", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "narcissus", vec.Vec3{Y: 50})
		if _, err := w.engine.StartFollowing(ctx, "narcissus", "narcissus", 10); !apperr.IsState(err) {
			t.Errorf("Ожидался KindState при следовании за собой, получено: %v", err)
		}
	})

	t.Run("Inactive Parties", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "active", vec.Vec3{Y: 50})
		err := w.agents.Create(ctx, &entity.Agent{ID: "sleeper", Active: false})
		if err != nil {
			t.Fatalf("Ошибка создания агента: %v", err)
		}

		if _, err := w.engine.StartFollowing(ctx, "sleeper", "active", 10); !apperr.IsState(err) {
			t.Errorf("Ожидался KindState для неактивного follower, получено: %v", err)
		}
		if _, err := w.engine.StartFollowing(ctx, "active", "sleeper", 10); !apperr.IsState(err) {
			t.Errorf("Ожидался KindState для неактивной цели, получено: %v", err)
		}
	})

	t.Run("Distance Clamp and Default", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "f", vec.Vec3{Y: 50})
		w.addActiveAgent(t, "t", vec.Vec3{X: 30, Y: 50, Z: 0})

		rel, err := w.engine.StartFollowing(ctx, "f", "t", 0)
		if err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}
		if rel.Distance != DefaultFollowDistance {
			t.Errorf("Ожидалась дистанция по умолчанию, получено %.1f", rel.Distance)
		}

		rel, err = w.engine.StartFollowing(ctx, "f", "t", 1000)
		if err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}
		if rel.Distance != MaxFollowDistance {
			t.Errorf("Дистанция не ограничена максимумом: %.1f", rel.Distance)
		}
	})

	t.Run("Stop Is Idempotent", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "f", vec.Vec3{Y: 50})
		w.addActiveAgent(t, "t", vec.Vec3{X: 30, Y: 50, Z: 0})

		if _, err := w.engine.StartFollowing(ctx, "f", "t", 10); err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}
		if err := w.engine.StopFollowing(ctx, "f"); err != nil {
			t.Fatalf("Ошибка остановки следования: %v", err)
		}
		if err := w.engine.StopFollowing(ctx, "f"); err != nil {
			t.Fatalf("Повторная остановка должна быть no-op: %v", err)
		}
	})
}

func TestFollowTick(t *testing.T) {
	ctx := context.Background()

	t.Run("Approaches Without Overshoot", func(t *testing.T) {
		w := newTestWorld()
		base := time.Now()
		followerPos := vec.Vec3{X: 0, Y: 50, Z: 0}
		targetPos := vec.Vec3{X: 15, Y: 50, Z: 0}

		w.addActiveAgent(t, "follower", followerPos)
		w.addActiveAgent(t, "target", targetPos)
		w.seedSnapshot(t, "follower", followerPos, base)
		w.seedSnapshot(t, "target", targetPos, base)
		w.engine.now = func() time.Time { return base.Add(2 * time.Second) }

		if _, err := w.engine.StartFollowing(ctx, "follower", "target", 10); err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}

		fc := NewFollowController(w.engine)
		fc.Tick(ctx)

		moved, err := w.agents.GetByID(ctx, "follower")
		if err != nil {
			t.Fatalf("Ошибка чтения follower: %v", err)
		}
		dist := moved.Position.DistanceTo(targetPos)
		if math.Abs(dist-10) > 1e-9 {
			t.Errorf("Ожидалась дистанция 10 после тика, получено %.4f", dist)
		}
		if dist < 10 {
			t.Error("Follower проскочил желаемую дистанцию")
		}
	})

	t.Run("No Movement Within Tolerance", func(t *testing.T) {
		w := newTestWorld()
		followerPos := vec.Vec3{X: 0, Y: 50, Z: 0}
		targetPos := vec.Vec3{X: 11, Y: 50, Z: 0}

		w.addActiveAgent(t, "follower", followerPos)
		w.addActiveAgent(t, "target", targetPos)

		if _, err := w.engine.StartFollowing(ctx, "follower", "target", 10); err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}

		fc := NewFollowController(w.engine)
		fc.Tick(ctx)

		// Дистанция 11 внутри допуска 10+2, движения нет
		still, err := w.agents.GetByID(ctx, "follower")
		if err != nil {
			t.Fatalf("Ошибка чтения follower: %v", err)
		}
		if !still.Position.Equals(followerPos) {
			t.Errorf("Движение внутри допуска: %+v", still.Position)
		}
	})

	t.Run("Step Capped By Follow Speed", func(t *testing.T) {
		w := newTestWorld()
		base := time.Now()
		followerPos := vec.Vec3{X: 0, Y: 50, Z: 0}
		targetPos := vec.Vec3{X: 200, Y: 50, Z: 0}

		w.addActiveAgent(t, "follower", followerPos)
		w.addActiveAgent(t, "target", targetPos)
		w.seedSnapshot(t, "follower", followerPos, base)
		w.seedSnapshot(t, "target", targetPos, base)
		w.engine.now = func() time.Time { return base.Add(2 * time.Second) }

		if _, err := w.engine.StartFollowing(ctx, "follower", "target", 10); err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}

		fc := NewFollowController(w.engine)
		fc.Tick(ctx)

		moved, err := w.agents.GetByID(ctx, "follower")
		if err != nil {
			t.Fatalf("Ошибка чтения follower: %v", err)
		}
		// За один тик не больше MaxFollowSpeed * 2с = 60 единиц
		step := moved.Position.DistanceTo(followerPos)
		if step > MaxFollowSpeed*FollowTickInterval.Seconds()+1e-9 {
			t.Errorf("Шаг %.2f превышает лимит скорости следования", step)
		}
		if step == 0 {
			t.Error("Follower не сдвинулся")
		}
	})

	t.Run("Self Heals On Inactive Target", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "follower", vec.Vec3{X: 0, Y: 50, Z: 0})
		w.addActiveAgent(t, "target", vec.Vec3{X: 30, Y: 50, Z: 0})

		if _, err := w.engine.StartFollowing(ctx, "follower", "target", 10); err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}
		if err := w.agents.SetActive(ctx, "target", false); err != nil {
			t.Fatalf("Ошибка деактивации цели: %v", err)
		}

		fc := NewFollowController(w.engine)
		fc.Tick(ctx)

		if _, err := w.cache.Get(ctx, followKey("follower")); !cache.IsCacheMiss(err) {
			t.Error("Отношение не удалено после деактивации цели")
		}
	})

	t.Run("Survives Storage Outage", func(t *testing.T) {
		w := newTestWorld()
		flaky := &flakyAgentRepo{AgentRepo: w.agents}
		w.engine.agents = flaky

		w.addActiveAgent(t, "follower", vec.Vec3{X: 0, Y: 50, Z: 0})
		w.addActiveAgent(t, "target", vec.Vec3{X: 30, Y: 50, Z: 0})
		if _, err := w.engine.StartFollowing(ctx, "follower", "target", 10); err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}

		fc := NewFollowController(w.engine)
		flaky.fail = true
		fc.Tick(ctx)

		// Временный сбой хранилища не повод терять отношение
		if _, err := w.cache.Get(ctx, followKey("follower")); err != nil {
			t.Errorf("Отношение удалено при сбое хранилища: %v", err)
		}

		// После восстановления тик снова двигает follower'а
		flaky.fail = false
		fc.Tick(ctx)
		moved, err := w.agents.GetByID(ctx, "follower")
		if err != nil {
			t.Fatalf("Ошибка чтения follower: %v", err)
		}
		if moved.Position.DistanceTo(vec.Vec3{X: 0, Y: 50, Z: 0}) == 0 {
			t.Error("Follower не сдвинулся после восстановления хранилища")
		}
	})

	t.Run("Discards On Missing Party", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "follower", vec.Vec3{X: 0, Y: 50, Z: 0})
		w.addActiveAgent(t, "target", vec.Vec3{X: 30, Y: 50, Z: 0})
		if _, err := w.engine.StartFollowing(ctx, "follower", "target", 10); err != nil {
			t.Fatalf("Ошибка запуска следования: %v", err)
		}
		if err := w.agents.Delete(ctx, "target"); err != nil {
			t.Fatalf("Ошибка удаления цели: %v", err)
		}

		fc := NewFollowController(w.engine)
		fc.Tick(ctx)

		if _, err := w.cache.Get(ctx, followKey("follower")); !cache.IsCacheMiss(err) {
			t.Error("Отношение не удалено после исчезновения цели")
		}
	})

	t.Run("Corrupt Relation Discarded", func(t *testing.T) {
		w := newTestWorld()
		if err := w.cache.Set(ctx, followKey("broken"), []byte("{не json"), FollowTTL); err != nil {
			t.Fatalf("Ошибка записи в кеш: %v", err)
		}

		fc := NewFollowController(w.engine)
		fc.Tick(ctx)

		if _, err := w.cache.Get(ctx, followKey("broken")); !cache.IsCacheMiss(err) {
			t.Error("Повреждённое отношение не удалено")
		}
	})
}

// flakyAgentRepo имитирует сбой durable-хранилища на чтение.
type flakyAgentRepo struct {
	storage.AgentRepo
	fail bool
}

func (r *flakyAgentRepo) GetByID(ctx context.Context, id string) (*entity.Agent, error) {
	if r.fail {
		return nil, apperr.New(apperr.KindInfrastructure, "хранилище агентов недоступно")
	}
	return r.AgentRepo.GetByID(ctx, id)
}
