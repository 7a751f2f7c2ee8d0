package world

import (
	"github.com/annel0/reef-world/internal/vec"
)

// Bounds представляет границы мира — фиксированный параллелепипед,
// внутри которого обязаны лежать все позиции.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// DefaultBounds возвращает стандартные границы мира:
// x,z ∈ [-500, 500], y ∈ [0, 200].
func DefaultBounds() Bounds {
	return Bounds{
		MinX: -500, MaxX: 500,
		MinY: 0, MaxY: 200,
		MinZ: -500, MaxZ: 500,
	}
}

// Clamp прижимает каждую координату независимо к границам мира.
// Нарушение границ никогда не является ошибкой — позиция корректируется.
func (b Bounds) Clamp(p vec.Vec3) vec.Vec3 {
	return vec.Vec3{
		X: clampAxis(p.X, b.MinX, b.MaxX),
		Y: clampAxis(p.Y, b.MinY, b.MaxY),
		Z: clampAxis(p.Z, b.MinZ, b.MaxZ),
	}
}

// Contains проверяет, лежит ли точка внутри границ мира
func (b Bounds) Contains(p vec.Vec3) bool {
	return p.X >= b.MinX && p.X <= b.MaxX &&
		p.Y >= b.MinY && p.Y <= b.MaxY &&
		p.Z >= b.MinZ && p.Z <= b.MaxZ
}

func clampAxis(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
