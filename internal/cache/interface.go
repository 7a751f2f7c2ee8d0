package cache

import (
	"context"
	"time"
)

// CacheRepo определяет интерфейс эфемерного hot cache.
// Кеш — низколатентное зеркало живых позиций; источником истины он не является
// и может быть недоступен: вызывающая сторона деградирует до durable-хранилища.
//
// Использование:
//
//	cache := NewRedisCache(config)
//	data, err := cache.Get(ctx, "pos:"+agentID)
//	err = cache.Set(ctx, "pos:"+agentID, data, 300*time.Second)
//	err = cache.Delete(ctx, "pos:"+agentID)
type CacheRepo interface {
	// Get получает значение по ключу из кеша.
	// Возвращает ErrCacheMiss если ключ не найден или истек.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение в кеше с указанным TTL.
	// Каждая запись сбрасывает TTL заново. TTL = 0 означает отсутствие истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кеша. Удаление отсутствующего ключа — не ошибка.
	Delete(ctx context.Context, key string) error

	// Exists проверяет существование ключа в кеше.
	Exists(ctx context.Context, key string) (bool, error)

	// Scan возвращает очередную страницу ключей по шаблону (например "pos:*").
	// cursor = 0 начинает обход; возвращенный next передается в следующий вызов;
	// next = 0 означает конец обхода. Обход переживает параллельные записи
	// и никогда не блокируется на весь набор ключей.
	Scan(ctx context.Context, pattern string, cursor uint64, count int64) (keys []string, next uint64, err error)

	// BatchGet получает несколько значений за один запрос.
	// Отсутствующие ключи пропускаются в результате.
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// BatchSet сохраняет несколько значений за один запрос.
	BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close закрывает соединение с кешем.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// CacheMetrics содержит метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig содержит конфигурацию для кеша.
type CacheConfig struct {
	// Redis конфигурация
	RedisURL      string `yaml:"redis_url" env:"CACHE_REDIS_URL"`
	RedisPassword string `yaml:"redis_password" env:"CACHE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"CACHE_REDIS_DB"`

	// Производительность
	MaxConnections int           `yaml:"max_connections" env:"CACHE_MAX_CONNECTIONS"`
	PoolTimeout    time.Duration `yaml:"pool_timeout" env:"CACHE_POOL_TIMEOUT"`

	// Размер страницы для Scan
	ScanPageSize int64 `yaml:"scan_page_size" env:"CACHE_SCAN_PAGE_SIZE"`
}

// Ошибки кеша
var (
	ErrCacheMiss    = NewCacheError("cache miss")
	ErrCacheTimeout = NewCacheError("cache timeout")
	ErrInvalidKey   = NewCacheError("invalid key")
)

// CacheError представляет ошибку кеша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}
