package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/reef-world/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCache реализует CacheRepo используя Redis как hot cache.
//
// Особенности:
// - Автоматические метрики (hit ratio, latency)
// - Batch операции через pipeline
// - Постраничный SCAN для фоновой reconciliation
// - Graceful shutdown
type RedisCache struct {
	client *redis.Client
	config *CacheConfig

	// Метрики
	metrics      *CacheMetrics
	metricsMutex sync.RWMutex

	// Статистика latency
	latencySum   int64 // в наносекундах
	latencyCount int64
	maxLatency   int64
}

// NewRedisCache создаёт новый Redis кеш.
//
// Параметры:
//
//	config - конфигурация подключения к Redis
//
// Возвращает:
//
//	*RedisCache - готовый к использованию кеш
//	error - ошибка подключения или конфигурации
func NewRedisCache(config *CacheConfig) (*RedisCache, error) {
	// Настройки по умолчанию
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.PoolTimeout == 0 {
		config.PoolTimeout = 30 * time.Second
	}
	if config.ScanPageSize == 0 {
		config.ScanPageSize = 100
	}

	// Создаём Redis клиент
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cache := &RedisCache{
		client: rdb,
		config: config,
		metrics: &CacheMetrics{
			LastUpdate: time.Now(),
		},
	}

	logging.Info("Redis cache initialized: %s", config.RedisURL)
	return cache, nil
}

// Get получает значение по ключу из Redis кеша.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer r.recordLatency(start)

	atomic.AddInt64(&r.metrics.TotalRequests, 1)

	val, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		atomic.AddInt64(&r.metrics.CacheHits, 1)
		r.updateHitRatio()
		return val, nil
	}

	atomic.AddInt64(&r.metrics.CacheMisses, 1)
	r.updateHitRatio()

	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	return nil, fmt.Errorf("redis get %s: %w", key, err)
}

// Set сохраняет значение в Redis с указанным TTL.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer r.recordLatency(start)

	if key == "" {
		return ErrInvalidKey
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ из Redis.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Exists проверяет существование ключа.
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Scan возвращает очередную страницу ключей по шаблону.
// Использует курсорный SCAN Redis: обход не блокирует сервер
// и переживает параллельные записи.
func (r *RedisCache) Scan(ctx context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error) {
	if count <= 0 {
		count = r.config.ScanPageSize
	}

	keys, next, err := r.client.Scan(ctx, cursor, pattern, count).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return keys, next, nil
}

// BatchGet получает несколько значений пайплайном.
func (r *RedisCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return make(map[string][]byte), nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis batch get: %w", err)
	}

	result := make(map[string][]byte, len(keys))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue // Пропускаем отсутствующие
		} else if err != nil {
			logging.Warn("Batch get failed for %s: %v", keys[i], err)
			continue
		}
		result[keys[i]] = data
	}

	return result, nil
}

// BatchSet сохраняет несколько значений пайплайном.
func (r *RedisCache) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, key, value, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis batch set: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// GetMetrics возвращает копию текущих метрик кеша.
func (r *RedisCache) GetMetrics() *CacheMetrics {
	r.metricsMutex.RLock()
	defer r.metricsMutex.RUnlock()

	m := *r.metrics
	count := atomic.LoadInt64(&r.latencyCount)
	if count > 0 {
		m.AvgLatencyMs = float64(atomic.LoadInt64(&r.latencySum)) / float64(count) / 1e6
	}
	m.MaxLatencyMs = float64(atomic.LoadInt64(&r.maxLatency)) / 1e6
	m.LastUpdate = time.Now()
	return &m
}

// recordLatency фиксирует длительность операции для метрик.
func (r *RedisCache) recordLatency(start time.Time) {
	elapsed := time.Since(start).Nanoseconds()
	atomic.AddInt64(&r.latencySum, elapsed)
	atomic.AddInt64(&r.latencyCount, 1)

	for {
		current := atomic.LoadInt64(&r.maxLatency)
		if elapsed <= current || atomic.CompareAndSwapInt64(&r.maxLatency, current, elapsed) {
			break
		}
	}
}

// updateHitRatio пересчитывает hit ratio после каждого запроса.
func (r *RedisCache) updateHitRatio() {
	total := atomic.LoadInt64(&r.metrics.TotalRequests)
	if total == 0 {
		return
	}
	hits := atomic.LoadInt64(&r.metrics.CacheHits)

	r.metricsMutex.Lock()
	r.metrics.HitRatio = float64(hits) / float64(total)
	r.metricsMutex.Unlock()
}
