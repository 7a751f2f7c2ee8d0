package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/reef-world/internal/api"
	"github.com/annel0/reef-world/internal/cache"
	"github.com/annel0/reef-world/internal/config"
	"github.com/annel0/reef-world/internal/engine"
	"github.com/annel0/reef-world/internal/eventbus"
	"github.com/annel0/reef-world/internal/logging"
	"github.com/annel0/reef-world/internal/observability"
	"github.com/annel0/reef-world/internal/storage"
	"github.com/annel0/reef-world/internal/world"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitLogger(); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseLogger()

	logging.Info("🐠 Запуск Reef World Server...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	metricsPort := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())
	logging.Info("📡 Конфигурация сервера: REST API=%s, метрики=%s, хранилище=%s",
		restPort, metricsPort, cfg.Storage.GetBackend())

	// === TELEMETRY ===
	telemetryShutdown, err := observability.InitTelemetry(context.Background(), "reef-world")
	if err != nil {
		logging.Warn("⚠️  OpenTelemetry недоступен: %v", err)
		telemetryShutdown = nil
	}

	// === DURABLE ХРАНИЛИЩЕ ===
	agents, structures, err := openStorage(cfg.Storage)
	if err != nil {
		logging.Error("❌ Ошибка подключения к хранилищу: %v", err)
		log.Fatalf("❌ Ошибка подключения к хранилищу: %v", err)
	}
	defer agents.Close()
	defer structures.Close()

	// === HOT CACHE ===
	hot := openCache(cfg.Cache)
	defer hot.Close()

	// === ШИНА СОБЫТИЙ ===
	bus := openBus(cfg.EventBus)
	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️  LoggingListener не запущен: %v", err)
	}

	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.StartHTTP(metricsPort)

	// === АРХИВ СНИМКОВ ===
	snapshots, err := storage.NewSnapshotStore(cfg.Snapshots.GetDataPath())
	if err != nil {
		logging.Warn("⚠️  Архив снимков недоступен: %v", err)
		snapshots = nil
	} else {
		defer snapshots.Close()
	}

	// === ДВИЖОК МИРА ===
	spawn := world.NewSpawnPicker(cfg.World.SpawnSeed, world.DefaultBounds())
	eng := engine.NewEngine(agents, structures, hot, bus, spawn)

	reconciler := engine.NewReconciler(eng)
	reconciler.Start()

	followController := engine.NewFollowController(eng)
	followController.Start()

	// === REST API ===
	restServer := api.NewRestServer(api.Config{
		Port:      restPort,
		Engine:    eng,
		Bus:       bus,
		Snapshots: snapshots,
	})
	if err := restServer.Start(); err != nil {
		logging.Error("❌ Ошибка запуска REST API: %v", err)
		log.Fatalf("❌ Ошибка запуска REST API: %v", err)
	}

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", metricsPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	// Останавливаем следование и сбрасываем кеш в durable-хранилище
	followController.Stop()
	reconciler.Stop()

	// Финальный снимок мира
	if snapshots != nil {
		saveFinalSnapshot(shutdownCtx, eng, snapshots)
	}

	busMetrics.Stop()
	if telemetryShutdown != nil {
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logging.Warn("⚠️  Ошибка остановки телеметрии: %v", err)
		}
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// openStorage подключает durable-хранилище согласно конфигурации.
// Неизвестный бэкенд считается ошибкой конфигурации.
func openStorage(cfg config.StorageConfig) (storage.AgentRepo, storage.StructureRepo, error) {
	switch cfg.GetBackend() {
	case "memory":
		logging.Warn("⚠️  Используется in-memory хранилище, данные не переживут рестарт")
		return storage.NewMemoryAgentRepo(), storage.NewMemoryStructureRepo(), nil

	case "maria":
		agents, err := storage.NewMariaAgentRepo(cfg.MariaDSN)
		if err != nil {
			return nil, nil, err
		}
		structures, err := storage.NewMariaStructureRepo(cfg.MariaDSN)
		if err != nil {
			agents.Close()
			return nil, nil, err
		}
		logging.Info("✅ MariaDB подключена")
		return agents, structures, nil

	case "mongo":
		mongoCfg := storage.MongoConfig{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		}
		agents, err := storage.NewMongoAgentRepo(mongoCfg)
		if err != nil {
			return nil, nil, err
		}
		structures, err := storage.NewMongoStructureRepo(mongoCfg)
		if err != nil {
			agents.Close()
			return nil, nil, err
		}
		logging.Info("✅ MongoDB подключена")
		return agents, structures, nil

	default:
		return nil, nil, fmt.Errorf("неизвестный бэкенд хранилища: %s", cfg.GetBackend())
	}
}

// openCache подключает Redis; при недоступности мир продолжает работать
// на in-memory кеше.
func openCache(cfg config.CacheConfig) cache.CacheRepo {
	url := cfg.GetRedisURL()
	if url == "" {
		logging.Info("Hot cache: in-memory (Redis не настроен)")
		return cache.NewMemoryCache()
	}

	redisCache, err := cache.NewRedisCache(&cache.CacheConfig{
		RedisURL:      url,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		logging.Warn("⚠️  Redis недоступен (%v), hot cache переведен на память", err)
		return cache.NewMemoryCache()
	}

	logging.Info("✅ Redis подключен: %s", url)
	return redisCache
}

// openBus подключает JetStream; без NATS события остаются внутри процесса.
func openBus(cfg config.EventBusConfig) eventbus.EventBus {
	url := cfg.GetNATSURL()
	if url == "" {
		logging.Info("Шина событий: in-memory (NATS не настроен)")
		return eventbus.NewMemoryBus(1024)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "REEF_EVENTS"
	}
	retention := time.Duration(cfg.Retention) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	bus, err := eventbus.NewJetStreamBus(url, stream, retention)
	if err != nil {
		logging.Warn("⚠️  JetStream недоступен (%v), шина переведена на память", err)
		return eventbus.NewMemoryBus(1024)
	}

	logging.Info("✅ JetStream подключен: %s (stream=%s)", url, stream)
	return bus
}

// saveFinalSnapshot снимает прощальный снимок мира перед остановкой.
func saveFinalSnapshot(ctx context.Context, eng *engine.Engine, snapshots *storage.SnapshotStore) {
	agents, structureList, err := eng.WorldState(ctx)
	if err != nil {
		logging.Warn("⚠️  Не удалось собрать состояние мира для снимка: %v", err)
		return
	}

	id, err := snapshots.Save(ctx, &storage.WorldSnapshot{
		TakenAt:    time.Now().UTC(),
		Agents:     agents,
		Structures: structureList,
	})
	if err != nil {
		logging.Warn("⚠️  Не удалось сохранить финальный снимок: %v", err)
		return
	}
	logging.Info("📸 Финальный снимок мира сохранен: %s", id)
}
