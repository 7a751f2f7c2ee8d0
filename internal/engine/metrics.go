package engine

import "github.com/prometheus/client_golang/prometheus"

// Prometheus-метрики движка мира.
var (
	moves = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "moves_total",
		Help:      "Число принятых авторитетных движений.",
	})
	moveClamps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "move_clamps_total",
		Help:      "Число движений, ограниченных границами мира или скоростью.",
	})
	builds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "builds_total",
		Help:      "Число успешно построенных структур.",
	})
	buildCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "build_collisions_total",
		Help:      "Число построек, отклоненных из-за пересечения.",
	})
	flushItems = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciler",
		Name:      "flush_items_total",
		Help:      "Число снимков позиций, слитых из hot cache в durable-хранилище.",
	})
	flushErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciler",
		Name:      "flush_errors_total",
		Help:      "Число поэлементных ошибок при сливе кеша.",
	})
	sweepDeactivations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciler",
		Name:      "sweep_deactivations_total",
		Help:      "Число агентов, выведенных из мира по неактивности.",
	})
	followMoves = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "follow",
		Name:      "moves_total",
		Help:      "Число движений, инициированных тиком следования.",
	})
)

func init() {
	prometheus.MustRegister(moves, moveClamps, builds, buildCollisions,
		flushItems, flushErrors, sweepDeactivations, followMoves)
}
