package storage

import (
	"context"
	"testing"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/vec"
)

// TestMemoryStructureRepo тестирует in-memory репозиторий структур
func TestMemoryStructureRepo(t *testing.T) {
	repo := NewMemoryStructureRepo()
	ctx := context.Background()

	makeStructure := func(id, owner string) *entity.Structure {
		return &entity.Structure{
			ID:       id,
			OwnerID:  owner,
			Name:     "риф-" + id,
			Type:     entity.StructPillar,
			Material: entity.MatCoral,
			Position: vec.Vec3{X: 10, Y: 5, Z: 10},
			Size:     entity.Size{Width: 4, Length: 4, Height: 8},
		}
	}

	t.Run("Create and Get", func(t *testing.T) {
		s := makeStructure("s1", "agent-1")
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Ошибка создания структуры: %v", err)
		}

		loaded, err := repo.GetByID(ctx, "s1")
		if err != nil {
			t.Fatalf("Ошибка загрузки структуры: %v", err)
		}
		if loaded.Material != entity.MatCoral {
			t.Errorf("Неверный материал: %s", loaded.Material)
		}
		if loaded.CreatedAt.IsZero() {
			t.Error("CreatedAt не проставлен при создании")
		}
	})

	t.Run("Create Duplicate", func(t *testing.T) {
		err := repo.Create(ctx, makeStructure("s1", "agent-2"))
		if !apperr.IsConflict(err) {
			t.Errorf("Ожидался KindConflict, получено: %v", err)
		}
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "missing")
		if !apperr.IsNotFound(err) {
			t.Errorf("Ожидался KindNotFound, получено: %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		if err := repo.Create(ctx, makeStructure("s2", "agent-1")); err != nil {
			t.Fatalf("Ошибка создания структуры: %v", err)
		}
		if err := repo.Create(ctx, makeStructure("s3", "agent-2")); err != nil {
			t.Fatalf("Ошибка создания структуры: %v", err)
		}

		all, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("Ошибка выборки структур: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("Ожидалось 3 структуры, получено %d", len(all))
		}
	})

	t.Run("Update", func(t *testing.T) {
		loaded, err := repo.GetByID(ctx, "s2")
		if err != nil {
			t.Fatalf("Ошибка загрузки структуры: %v", err)
		}

		loaded.Name = "обелиск"
		loaded.Material = entity.MatCrystal
		if err := repo.Update(ctx, loaded); err != nil {
			t.Fatalf("Ошибка обновления структуры: %v", err)
		}

		reloaded, err := repo.GetByID(ctx, "s2")
		if err != nil {
			t.Fatalf("Ошибка повторной загрузки: %v", err)
		}
		if reloaded.Name != "обелиск" || reloaded.Material != entity.MatCrystal {
			t.Errorf("Структура не обновлена: %+v", reloaded)
		}

		missing := makeStructure("missing", "agent-1")
		if err := repo.Update(ctx, missing); !apperr.IsNotFound(err) {
			t.Errorf("Ожидался KindNotFound при обновлении несуществующей, получено: %v", err)
		}
	})

	t.Run("ClearOwner", func(t *testing.T) {
		if err := repo.ClearOwner(ctx, "agent-1"); err != nil {
			t.Fatalf("Ошибка обнуления владельца: %v", err)
		}

		all, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("Ошибка выборки структур: %v", err)
		}
		for _, s := range all {
			if s.OwnerID == "agent-1" {
				t.Errorf("У структуры %s остался владелец agent-1", s.ID)
			}
		}

		// Структуры сохраняются без владельца
		if _, err := repo.GetByID(ctx, "s1"); err != nil {
			t.Errorf("Структура удалена вместо обнуления владельца: %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "s3"); err != nil {
			t.Fatalf("Ошибка удаления структуры: %v", err)
		}
		_, err := repo.GetByID(ctx, "s3")
		if !apperr.IsNotFound(err) {
			t.Error("Структура найдена после удаления")
		}

		if err := repo.Delete(ctx, "s3"); !apperr.IsNotFound(err) {
			t.Errorf("Ожидался KindNotFound при повторном удалении, получено: %v", err)
		}
	})
}
