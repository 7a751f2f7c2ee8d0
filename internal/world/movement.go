package world

import (
	"github.com/annel0/reef-world/internal/vec"
)

const (
	// MaxSpeed — максимальная наблюдаемая скорость агента между двумя
	// авторитативными обновлениями (единиц мира в секунду).
	MaxSpeed = 50.0

	// DefaultElapsed используется, когда время с последнего обновления
	// неизвестно или некорректно.
	DefaultElapsed = 0.1
)

// MoveResult содержит итоговую авторитативную позицию после валидации.
// Clamped используется только для логирования — клиенту ошибка не возвращается.
type MoveResult struct {
	Position vec.Vec3
	Clamped  bool
}

// ValidateMove вычисляет авторитативную позицию агента.
// Чистая функция без побочных эффектов:
//  1. каждая координата независимо прижимается к границам мира;
//  2. если пройденное расстояние превышает maxSpeed × elapsed, вектор
//     смещения масштабируется вдоль того же направления и прижимается снова.
//
// Результат всегда лежит на отрезке между previous и proposed.
func ValidateMove(proposed, previous vec.Vec3, elapsed float64, bounds Bounds, maxSpeed float64) MoveResult {
	if elapsed <= 0 {
		elapsed = DefaultElapsed
	}

	result := bounds.Clamp(proposed)
	clamped := !result.Equals(proposed)

	// Ограничение скорости: расстояние за elapsed секунд
	dist := previous.DistanceTo(result)
	maxDist := maxSpeed * elapsed
	if dist > maxDist {
		scale := maxDist / dist
		displacement := result.Sub(previous).Mul(scale)
		result = bounds.Clamp(previous.Add(displacement))
		clamped = true
	}

	return MoveResult{Position: result, Clamped: clamped}
}
