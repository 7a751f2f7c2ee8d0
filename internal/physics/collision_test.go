package physics

import (
	"testing"

	"github.com/annel0/reef-world/internal/vec"
)

// TestBoxOverlaps тестирует пересечение AABB
func TestBoxOverlaps(t *testing.T) {
	t.Run("Полное пересечение", func(t *testing.T) {
		a := NewBox(vec.Vec3{X: 0, Y: 0, Z: 0}, 10, 10, 10)
		b := NewBox(vec.Vec3{X: 0, Y: 0, Z: 0}, 10, 10, 10)

		if !a.Overlaps(b) {
			t.Error("Полностью совпадающие боксы должны пересекаться")
		}
	})

	t.Run("Частичное пересечение", func(t *testing.T) {
		a := NewBox(vec.Vec3{X: 10, Y: 50, Z: 10}, 10, 10, 10)
		b := NewBox(vec.Vec3{X: 12, Y: 50, Z: 12}, 10, 10, 10)

		if !a.Overlaps(b) {
			t.Error("Боксы со смещением 2 при размере 10 должны пересекаться")
		}
	})

	t.Run("Нет пересечения", func(t *testing.T) {
		a := NewBox(vec.Vec3{X: 0, Y: 0, Z: 0}, 10, 10, 10)
		b := NewBox(vec.Vec3{X: 100, Y: 0, Z: 0}, 10, 10, 10)

		if a.Overlaps(b) {
			t.Error("Разнесенные боксы не должны пересекаться")
		}
	})

	t.Run("Соприкосновение гранями не считается пересечением", func(t *testing.T) {
		a := NewBox(vec.Vec3{X: 0, Y: 0, Z: 0}, 10, 10, 10)
		b := NewBox(vec.Vec3{X: 10, Y: 0, Z: 0}, 10, 10, 10)

		if a.Overlaps(b) {
			t.Error("Соприкасающиеся гранями боксы не должны пересекаться")
		}
	})

	t.Run("Пересечение только по двум осям", func(t *testing.T) {
		// По X и Z боксы пересекаются, но по Y разнесены
		a := NewBox(vec.Vec3{X: 0, Y: 0, Z: 0}, 10, 10, 10)
		b := NewBox(vec.Vec3{X: 2, Y: 50, Z: 2}, 10, 10, 10)

		if a.Overlaps(b) {
			t.Error("Пересечение требует перекрытия проекций на всех трех осях")
		}
	})

	t.Run("Симметричность", func(t *testing.T) {
		a := NewBox(vec.Vec3{X: 1, Y: 2, Z: 3}, 4, 6, 8)
		b := NewBox(vec.Vec3{X: 3, Y: 4, Z: 5}, 8, 6, 4)

		if a.Overlaps(b) != b.Overlaps(a) {
			t.Error("Проверка пересечения должна быть симметричной")
		}
	})

	t.Run("Разные габариты", func(t *testing.T) {
		// Широкая платформа и узкий столб над ней
		platform := NewBox(vec.Vec3{X: 0, Y: 10, Z: 0}, 50, 50, 2)
		pillar := NewBox(vec.Vec3{X: 5, Y: 10, Z: 5}, 2, 2, 20)

		if !platform.Overlaps(pillar) {
			t.Error("Столб внутри платформы должен пересекаться с ней")
		}
	})
}

// TestHalfDiagonal тестирует вычисление полудиагонали
func TestHalfDiagonal(t *testing.T) {
	// Бокс 6x8x0: диагональ 10, полудиагональ 5
	b := NewBox(vec.Vec3{}, 6, 8, 0)
	if got := b.HalfDiagonal(); got < 4.999 || got > 5.001 {
		t.Errorf("HalfDiagonal() = %v, ожидалось 5", got)
	}
}

// TestIsPointInside тестирует вхождение точки в бокс
func TestIsPointInside(t *testing.T) {
	b := NewBox(vec.Vec3{X: 0, Y: 0, Z: 0}, 10, 10, 10)

	if !b.IsPointInside(vec.Vec3{X: 1, Y: -2, Z: 3}) {
		t.Error("Точка внутри бокса не распознана")
	}
	if b.IsPointInside(vec.Vec3{X: 6, Y: 0, Z: 0}) {
		t.Error("Точка вне бокса распознана как внутренняя")
	}
}
