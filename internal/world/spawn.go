package world

import (
	"math"
	"math/rand"
	"sync"

	"github.com/annel0/reef-world/internal/vec"
	"github.com/aquilax/go-perlin"
)

// DefaultSpawn — позиция по умолчанию для только что зарегистрированного
// (еще не вошедшего в мир) агента.
var DefaultSpawn = vec.Vec3{X: 0, Y: 10, Z: 0}

// SpawnPicker выбирает точку появления агента при входе в мир.
// Высота точки берется из рельефа дна, сгенерированного шумом Перлина,
// чтобы агенты не появлялись под рельефом.
type SpawnPicker struct {
	mu     sync.Mutex
	noise  *perlin.Perlin
	rng    *rand.Rand
	bounds Bounds

	// Радиус кольца вокруг центра мира, в котором выбираются точки входа
	spawnRadius float64
	// Насколько выше дна появляется агент
	hoverOffset float64
}

// NewSpawnPicker создает генератор точек входа с указанным сидом.
// Одинаковый сид дает одинаковый рельеф дна между перезапусками.
func NewSpawnPicker(seed int64, bounds Bounds) *SpawnPicker {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав

	return &SpawnPicker{
		noise:       perlin.NewPerlin(alpha, beta, n, seed),
		rng:         rand.New(rand.NewSource(seed)),
		bounds:      bounds,
		spawnRadius: 100,
		hoverOffset: 5,
	}
}

// SeabedHeight возвращает высоту дна в точке (x, z).
// Шум Перлина (-1..1) нормализуется в 0..1 и растягивается на диапазон 2..40.
func (sp *SpawnPicker) SeabedHeight(x, z float64) float64 {
	noise := sp.noise.Noise2D(x/250.0, z/250.0)
	normalized := (noise + 1.0) / 2.0
	return 2.0 + normalized*38.0
}

// Pick выбирает случайную точку входа в кольце вокруг центра мира.
// Возвращаемая позиция всегда лежит внутри границ мира.
func (sp *SpawnPicker) Pick() vec.Vec3 {
	sp.mu.Lock()
	angle := sp.rng.Float64() * 2 * math.Pi
	dist := sp.rng.Float64() * sp.spawnRadius
	sp.mu.Unlock()

	x := math.Cos(angle) * dist
	z := math.Sin(angle) * dist
	y := sp.SeabedHeight(x, z) + sp.hoverOffset

	return sp.bounds.Clamp(vec.Vec3{X: x, Y: y, Z: z})
}
