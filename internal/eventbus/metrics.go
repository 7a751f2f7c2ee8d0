package eventbus

import (
	"context"
	"net/http"
	"time"

	"github.com/annel0/reef-world/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsExporter публикует Prometheus-метрики шины событий мира.
// Агрегаты published/consumed/dropped снимаются с любой реализации через
// EventBus.Metrics(); разбивку по типам (сколько agent.moved, сколько
// structure.built) экспортер считает сам через собственную подписку.

type MetricsExporter struct {
	bus  EventBus
	sub  Subscription
	quit chan struct{}
	done chan struct{}

	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
	byType    *prometheus.CounterVec
}

// NewMetricsExporter создаёт экспортер, но не запускает HTTP-сервер.
func NewMetricsExporter(bus EventBus) *MetricsExporter {
	me := &MetricsExporter{
		bus:  bus,
		quit: make(chan struct{}),
		done: make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reef_eventbus",
			Name:      "messages_published_total",
			Help:      "Общее число опубликованных событий мира.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reef_eventbus",
			Name:      "messages_consumed_total",
			Help:      "Общее число событий, доставленных подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reef_eventbus",
			Name:      "messages_dropped_total",
			Help:      "Событий, отброшенных из-за ошибок или back-pressure.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reef_eventbus",
			Name:      "messages_inflight",
			Help:      "Количество событий в очереди шины.",
		}),
		byType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reef_eventbus",
			Name:      "world_events_total",
			Help:      "События мира по типам (agent.moved, structure.built и т.д.).",
		}, []string{"event_type"}),
	}

	prometheus.MustRegister(me.published, me.consumed, me.dropped, me.inflight, me.byType)
	return me
}

// StartHTTP запускает HTTP-эндпоинт Prometheus на указанном адресе (например, ":2112").
// Метод неблокирующий: HTTP-сервер стартует в отдельной горутине.
func (m *MetricsExporter) StartHTTP(addr string) {
	// Подписка без фильтра: каждое событие инкрементит счётчик своего типа.
	sub, err := m.bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		m.byType.WithLabelValues(ev.EventType).Inc()
	})
	if err != nil {
		logging.Warn("Экспортер метрик: подписка на шину не удалась: %v", err)
	} else {
		m.sub = sub
	}

	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	go m.loop()
}

// Stop останавливает подписку и обновление метрик. HTTP-сервер живёт до
// завершения процесса: метрики отдаются с отдельного порта.
func (m *MetricsExporter) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	close(m.quit)
	<-m.done
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer close(m.done)

	// Counter монотонный, поэтому из Stats прибавляется дельта к прошлому снимку.
	var prev Stats

	for {
		select {
		case <-ticker.C:
			stats := m.bus.Metrics()

			if d := stats.Published - prev.Published; d > 0 {
				m.published.Add(float64(d))
			}
			if d := stats.Consumed - prev.Consumed; d > 0 {
				m.consumed.Add(float64(d))
			}
			if d := stats.Dropped - prev.Dropped; d > 0 {
				m.dropped.Add(float64(d))
			}
			m.inflight.Set(float64(stats.InFlight))

			prev = stats
		case <-m.quit:
			return
		}
	}
}
