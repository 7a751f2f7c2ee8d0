package physics

import (
	"math"

	"github.com/annel0/reef-world/internal/vec"
)

// Box представляет выровненный по осям параллелепипед (AABB),
// заданный центром и габаритами. Width — ось X, Height — ось Y, Length — ось Z.
type Box struct {
	Center vec.Vec3
	Width  float64
	Height float64
	Length float64
}

// NewBox создаёт новый AABB с указанным центром и габаритами
func NewBox(center vec.Vec3, width, length, height float64) Box {
	return Box{Center: center, Width: width, Length: length, Height: height}
}

// HalfDiagonal возвращает половину диагонали параллелепипеда.
// Используется для вычисления радиуса поиска кандидатов на пересечение.
func (b Box) HalfDiagonal() float64 {
	return math.Sqrt(b.Width*b.Width+b.Length*b.Length+b.Height*b.Height) / 2
}

// Overlaps проверяет пересечение двух AABB.
// Проекции должны пересекаться на всех трех осях одновременно.
// Неравенства строгие: соприкасающиеся гранями боксы не пересекаются.
// Проверка симметрична: a.Overlaps(b) == b.Overlaps(a).
func (b Box) Overlaps(other Box) bool {
	return axisOverlap(b.Center.X, b.Width, other.Center.X, other.Width) &&
		axisOverlap(b.Center.Y, b.Height, other.Center.Y, other.Height) &&
		axisOverlap(b.Center.Z, b.Length, other.Center.Z, other.Length)
}

// IsPointInside проверяет, находится ли точка внутри бокса
func (b Box) IsPointInside(p vec.Vec3) bool {
	return math.Abs(p.X-b.Center.X) < b.Width/2 &&
		math.Abs(p.Y-b.Center.Y) < b.Height/2 &&
		math.Abs(p.Z-b.Center.Z) < b.Length/2
}

func axisOverlap(c1, size1, c2, size2 float64) bool {
	return c1+size1/2 > c2-size2/2 && c1-size1/2 < c2+size2/2
}
