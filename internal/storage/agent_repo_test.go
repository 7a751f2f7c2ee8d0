package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/vec"
)

// TestMemoryAgentRepo тестирует in-memory репозиторий агентов
func TestMemoryAgentRepo(t *testing.T) {
	repo := NewMemoryAgentRepo()
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		agent := &entity.Agent{
			ID:        "agent-1",
			Name:      "nemo",
			Position:  vec.Vec3{X: 10, Y: 20, Z: 30},
			Animation: entity.AnimSwim,
			Active:    true,
		}

		if err := repo.Create(ctx, agent); err != nil {
			t.Fatalf("Ошибка создания агента: %v", err)
		}

		loaded, err := repo.GetByID(ctx, "agent-1")
		if err != nil {
			t.Fatalf("Ошибка загрузки агента: %v", err)
		}

		if loaded.Position != agent.Position {
			t.Errorf("Неверная позиция: ожидалась %+v, получена %+v", agent.Position, loaded.Position)
		}
		if loaded.Name != "nemo" {
			t.Errorf("Неверное имя: ожидалось nemo, получено %s", loaded.Name)
		}
		if loaded.UpdatedAt.IsZero() {
			t.Error("UpdatedAt не проставлен при создании")
		}
	})

	t.Run("Create Duplicate", func(t *testing.T) {
		agent := &entity.Agent{ID: "agent-1", Name: "dory"}
		err := repo.Create(ctx, agent)
		if err == nil {
			t.Fatal("Ожидалась ошибка конфликта при повторном создании")
		}
		if !apperr.IsConflict(err) {
			t.Errorf("Ожидался KindConflict, получено: %v", err)
		}
	})

	t.Run("Create Empty ID", func(t *testing.T) {
		err := repo.Create(ctx, &entity.Agent{Name: "ghost"})
		if !apperr.IsValidation(err) {
			t.Errorf("Ожидался KindValidation, получено: %v", err)
		}
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "missing")
		if !apperr.IsNotFound(err) {
			t.Errorf("Ожидался KindNotFound, получено: %v", err)
		}
	})

	t.Run("GetByName", func(t *testing.T) {
		loaded, err := repo.GetByName(ctx, "nemo")
		if err != nil {
			t.Fatalf("Ошибка поиска по имени: %v", err)
		}
		if loaded.ID != "agent-1" {
			t.Errorf("Неверный агент: ожидался agent-1, получен %s", loaded.ID)
		}

		_, err = repo.GetByName(ctx, "unknown")
		if !apperr.IsNotFound(err) {
			t.Errorf("Ожидался KindNotFound для неизвестного имени, получено: %v", err)
		}
	})

	t.Run("UpsertPosition", func(t *testing.T) {
		newPos := vec.Vec3{X: 1, Y: 2, Z: 3}
		newVel := vec.Vec3{X: 0.5, Y: 0, Z: 0}
		orient := entity.Orientation{Yaw: 90}

		err := repo.UpsertPosition(ctx, "agent-1", newPos, newVel, orient, entity.AnimDart)
		if err != nil {
			t.Fatalf("Ошибка обновления позиции: %v", err)
		}

		loaded, err := repo.GetByID(ctx, "agent-1")
		if err != nil {
			t.Fatalf("Ошибка загрузки после обновления: %v", err)
		}
		if loaded.Position != newPos {
			t.Errorf("Позиция не обновлена: ожидалась %+v, получена %+v", newPos, loaded.Position)
		}
		if loaded.Animation != entity.AnimDart {
			t.Errorf("Анимация не обновлена: получена %s", loaded.Animation)
		}

		err = repo.UpsertPosition(ctx, "missing", newPos, newVel, orient, entity.AnimIdle)
		if !apperr.IsNotFound(err) {
			t.Errorf("Ожидался KindNotFound для несуществующего агента, получено: %v", err)
		}
	})

	t.Run("SetActive and ListActive", func(t *testing.T) {
		for i := 2; i <= 4; i++ {
			agent := &entity.Agent{
				ID:     fmt.Sprintf("agent-%d", i),
				Name:   fmt.Sprintf("fish-%d", i),
				Active: true,
			}
			if err := repo.Create(ctx, agent); err != nil {
				t.Fatalf("Ошибка создания агента %d: %v", i, err)
			}
		}

		if err := repo.SetActive(ctx, "agent-3", false); err != nil {
			t.Fatalf("Ошибка деактивации: %v", err)
		}

		active, err := repo.ListActive(ctx)
		if err != nil {
			t.Fatalf("Ошибка выборки активных: %v", err)
		}
		for _, a := range active {
			if a.ID == "agent-3" {
				t.Error("Деактивированный агент попал в выборку активных")
			}
		}
	})

	t.Run("ListActiveUpdatedBefore", func(t *testing.T) {
		// Все записи создавались только что, cutoff в прошлом ничего не находит
		stale, err := repo.ListActiveUpdatedBefore(ctx, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("Ошибка выборки устаревших: %v", err)
		}
		if len(stale) != 0 {
			t.Errorf("Ожидалась пустая выборка, получено %d записей", len(stale))
		}

		// Cutoff в будущем находит всех активных
		stale, err = repo.ListActiveUpdatedBefore(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("Ошибка выборки устаревших: %v", err)
		}
		if len(stale) == 0 {
			t.Error("Ожидались устаревшие записи при cutoff в будущем")
		}
		for _, a := range stale {
			if !a.Active {
				t.Errorf("Неактивный агент %s попал в выборку устаревших", a.ID)
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "agent-4"); err != nil {
			t.Fatalf("Ошибка удаления агента: %v", err)
		}

		_, err := repo.GetByID(ctx, "agent-4")
		if !apperr.IsNotFound(err) {
			t.Error("Агент найден после удаления")
		}

		err = repo.Delete(ctx, "agent-4")
		if !apperr.IsNotFound(err) {
			t.Errorf("Ожидался KindNotFound при повторном удалении, получено: %v", err)
		}
	})

	t.Run("Returned Copy Isolation", func(t *testing.T) {
		loaded, err := repo.GetByID(ctx, "agent-1")
		if err != nil {
			t.Fatalf("Ошибка загрузки агента: %v", err)
		}

		loaded.Position = vec.Vec3{X: 999, Y: 999, Z: 999}

		reloaded, err := repo.GetByID(ctx, "agent-1")
		if err != nil {
			t.Fatalf("Ошибка повторной загрузки: %v", err)
		}
		if reloaded.Position == loaded.Position {
			t.Error("Изменение возвращенной копии затронуло хранилище")
		}
	})

	t.Run("Context Cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		if err := repo.Create(cancelled, &entity.Agent{ID: "ctx-agent"}); err == nil {
			t.Error("Ожидалась ошибка отмененного контекста")
		}
		if _, err := repo.GetByID(cancelled, "agent-1"); err == nil {
			t.Error("Ожидалась ошибка отмененного контекста при чтении")
		}
	})
}

// TestMemoryAgentRepoConcurrency проверяет безопасность конкурентного доступа
func TestMemoryAgentRepoConcurrency(t *testing.T) {
	repo := NewMemoryAgentRepo()
	ctx := context.Background()

	const goroutines = 10
	const iterations = 50

	for i := 0; i < goroutines; i++ {
		agent := &entity.Agent{ID: fmt.Sprintf("agent-%d", i), Active: true}
		if err := repo.Create(ctx, agent); err != nil {
			t.Fatalf("Ошибка создания агента %d: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			agentID := fmt.Sprintf("agent-%d", id)
			for j := 0; j < iterations; j++ {
				pos := vec.Vec3{X: float64(j), Y: float64(id), Z: 0}
				if err := repo.UpsertPosition(ctx, agentID, pos, vec.Vec3{}, entity.Orientation{}, entity.AnimSwim); err != nil {
					t.Errorf("Ошибка конкурентного обновления: %v", err)
					return
				}
				if _, err := repo.GetByID(ctx, agentID); err != nil {
					t.Errorf("Ошибка конкурентного чтения: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if repo.Count() != goroutines {
		t.Errorf("Неверное количество записей: ожидалось %d, получено %d", goroutines, repo.Count())
	}
}
