package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/vec"
)

func TestNearbyAgents(t *testing.T) {
	ctx := context.Background()
	origin := vec.Vec3{X: 0, Y: 50, Z: 0}

	t.Run("Radius Filter and Order", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "near", vec.Vec3{X: 10, Y: 50, Z: 0})
		w.addActiveAgent(t, "mid", vec.Vec3{X: 30, Y: 50, Z: 0})
		w.addActiveAgent(t, "far", vec.Vec3{X: 50, Y: 50, Z: 0})

		hits, err := w.engine.NearbyAgents(ctx, origin, 40, "")
		if err != nil {
			t.Fatalf("Ошибка запроса близости: %v", err)
		}
		if len(hits) != 2 {
			t.Fatalf("Ожидалось 2 агента в радиусе 40, получено %d", len(hits))
		}
		if hits[0].Agent.ID != "near" || hits[1].Agent.ID != "mid" {
			t.Errorf("Нарушен порядок по дистанции: %s, %s", hits[0].Agent.ID, hits[1].Agent.ID)
		}
		if hits[0].Distance != 10 || hits[1].Distance != 30 {
			t.Errorf("Неверные дистанции: %.1f, %.1f", hits[0].Distance, hits[1].Distance)
		}
	})

	t.Run("Ignores Inactive", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "awake", vec.Vec3{X: 5, Y: 50, Z: 0})
		err := w.agents.Create(ctx, &entity.Agent{
			ID: "asleep", Position: vec.Vec3{X: 6, Y: 50, Z: 0}, Active: false,
		})
		if err != nil {
			t.Fatalf("Ошибка создания агента: %v", err)
		}

		hits, err := w.engine.NearbyAgents(ctx, origin, 50, "")
		if err != nil {
			t.Fatalf("Ошибка запроса близости: %v", err)
		}
		if len(hits) != 1 || hits[0].Agent.ID != "awake" {
			t.Errorf("Неактивный агент попал в выборку: %+v", hits)
		}
	})

	t.Run("Excludes Requester", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "self", origin)
		w.addActiveAgent(t, "other", vec.Vec3{X: 5, Y: 50, Z: 0})

		hits, err := w.engine.NearbyAgents(ctx, origin, 50, "self")
		if err != nil {
			t.Fatalf("Ошибка запроса близости: %v", err)
		}
		for _, h := range hits {
			if h.Agent.ID == "self" {
				t.Error("Запрашивающий попал в собственную выборку")
			}
		}
	})

	t.Run("Cap", func(t *testing.T) {
		w := newTestWorld()
		for i := 0; i < MaxNearbyAgents+10; i++ {
			w.addActiveAgent(t, fmt.Sprintf("a%d", i), vec.Vec3{X: float64(i) * 0.1, Y: 50, Z: 0})
		}

		hits, err := w.engine.NearbyAgents(ctx, origin, 300, "")
		if err != nil {
			t.Fatalf("Ошибка запроса близости: %v", err)
		}
		if len(hits) != MaxNearbyAgents {
			t.Errorf("Выборка не усечена: %d агентов", len(hits))
		}
		for i := 1; i < len(hits); i++ {
			if hits[i-1].Distance > hits[i].Distance {
				t.Fatal("Выборка не отсортирована по возрастанию дистанции")
			}
		}
	})

	t.Run("Radius Clamp", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "beyond", vec.Vec3{X: 400, Y: 50, Z: 0})

		// Радиус сверх максимума урезается до 300
		hits, err := w.engine.NearbyAgents(ctx, origin, 10000, "")
		if err != nil {
			t.Fatalf("Ошибка запроса близости: %v", err)
		}
		if len(hits) != 0 {
			t.Error("Радиус не ограничен максимумом")
		}
	})
}

func TestNearbyFor(t *testing.T) {
	ctx := context.Background()

	t.Run("Inactive Requester Rejected", func(t *testing.T) {
		w := newTestWorld()
		err := w.agents.Create(ctx, &entity.Agent{
			ID: "ghost", Name: "agent-ghost", Position: vec.Vec3{X: 0, Y: 50, Z: 0}, Active: false,
		})
		if err != nil {
			t.Fatalf("Ошибка создания агента: %v", err)
		}
		w.addActiveAgent(t, "neighbor", vec.Vec3{X: 5, Y: 50, Z: 0})

		_, _, err = w.engine.NearbyFor(ctx, "ghost", 50)
		if err == nil {
			t.Fatal("Агент вне мира получил выборку окружения")
		}
		if !apperr.IsState(err) {
			t.Errorf("Ожидалась ошибка состояния, получено: %v", err)
		}
	})

	t.Run("Unknown Requester Is Not Found", func(t *testing.T) {
		w := newTestWorld()
		_, _, err := w.engine.NearbyFor(ctx, "nobody", 50)
		if !apperr.IsNotFound(err) {
			t.Errorf("Ожидалась ошибка отсутствия, получено: %v", err)
		}
	})

	t.Run("Active Requester Sees Surroundings", func(t *testing.T) {
		w := newTestWorld()
		w.addActiveAgent(t, "diver", vec.Vec3{X: 0, Y: 50, Z: 0})
		w.addActiveAgent(t, "neighbor", vec.Vec3{X: 10, Y: 50, Z: 0})

		agents, _, err := w.engine.NearbyFor(ctx, "diver", 50)
		if err != nil {
			t.Fatalf("Ошибка запроса близости: %v", err)
		}
		if len(agents) != 1 || agents[0].Agent.ID != "neighbor" {
			t.Errorf("Неверная выборка вокруг агента: %+v", agents)
		}
	})
}

func TestNearbyStructures(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld()

	for i, x := range []float64{5, 25, 60} {
		err := w.structures.Create(ctx, &entity.Structure{
			ID:       fmt.Sprintf("s%d", i),
			Name:     fmt.Sprintf("риф-%d", i),
			Type:     entity.StructPlatform,
			Material: entity.MatCoral,
			Position: vec.Vec3{X: x, Y: 10, Z: 0},
			Size:     entity.Size{Width: 2, Length: 2, Height: 2},
		})
		if err != nil {
			t.Fatalf("Ошибка создания структуры: %v", err)
		}
	}

	hits, err := w.engine.NearbyStructures(ctx, vec.Vec3{X: 0, Y: 10, Z: 0}, 30)
	if err != nil {
		t.Fatalf("Ошибка запроса близости: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Ожидалось 2 структуры в радиусе 30, получено %d", len(hits))
	}
	if hits[0].Structure.ID != "s0" || hits[1].Structure.ID != "s1" {
		t.Errorf("Нарушен порядок по дистанции: %s, %s", hits[0].Structure.ID, hits[1].Structure.ID)
	}
}
