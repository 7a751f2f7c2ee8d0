package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache реализует CacheRepo в памяти процесса.
// Используется как fallback, когда Redis недоступен,
// или для CI/локальной разработки без инфраструктуры.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryCache struct {
	mu      sync.RWMutex
	data    map[string]memoryEntry
	metrics *CacheMetrics
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // нулевое время — без истечения
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryCache создает новый кеш в памяти.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data:    make(map[string]memoryEntry),
		metrics: &CacheMetrics{LastUpdate: time.Now()},
	}
}

// Get получает значение по ключу.
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	atomic.AddInt64(&m.metrics.TotalRequests, 1)

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if !exists || entry.expired(time.Now()) {
		atomic.AddInt64(&m.metrics.CacheMisses, 1)
		return nil, ErrCacheMiss
	}

	atomic.AddInt64(&m.metrics.CacheHits, 1)
	return entry.value, nil
}

// Set сохраняет значение с указанным TTL. Каждая запись сбрасывает TTL.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrInvalidKey
	}

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete удаляет ключ. Отсутствие ключа — не ошибка.
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Exists проверяет существование ключа.
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	return exists && !entry.expired(time.Now()), nil
}

// Scan возвращает очередную страницу ключей по шаблону.
// Поддерживается шаблон вида "prefix*" (как используют вызывающие стороны)
// или точное совпадение. Курсор — позиция в отсортированном списке ключей,
// поэтому обход рестартуем и детерминирован.
func (m *MemoryCache) Scan(ctx context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if count <= 0 {
		count = 100
	}

	now := time.Now()

	m.mu.RLock()
	matched := make([]string, 0, len(m.data))
	for key, entry := range m.data {
		if entry.expired(now) {
			continue
		}
		if matchPattern(pattern, key) {
			matched = append(matched, key)
		}
	}
	m.mu.RUnlock()

	sort.Strings(matched)

	start := int(cursor)
	if start >= len(matched) {
		return nil, 0, nil
	}

	end := start + int(count)
	if end >= len(matched) {
		return matched[start:], 0, nil
	}
	return matched[start:end], uint64(end), nil
}

// BatchGet получает несколько значений. Отсутствующие ключи пропускаются.
func (m *MemoryCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	result := make(map[string][]byte, len(keys))

	m.mu.RLock()
	for _, key := range keys {
		if entry, exists := m.data[key]; exists && !entry.expired(now) {
			result[key] = entry.value
		}
	}
	m.mu.RUnlock()

	return result, nil
}

// BatchSet сохраняет несколько значений с общим TTL.
func (m *MemoryCache) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	for key, value := range items {
		m.data[key] = memoryEntry{value: value, expiresAt: expiresAt}
	}
	m.mu.Unlock()
	return nil
}

// Close освобождает ресурсы кеша.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.data = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// GetMetrics возвращает копию текущих метрик.
func (m *MemoryCache) GetMetrics() *CacheMetrics {
	total := atomic.LoadInt64(&m.metrics.TotalRequests)
	hits := atomic.LoadInt64(&m.metrics.CacheHits)

	metrics := &CacheMetrics{
		TotalRequests: total,
		CacheHits:     hits,
		CacheMisses:   atomic.LoadInt64(&m.metrics.CacheMisses),
		LastUpdate:    time.Now(),
	}
	if total > 0 {
		metrics.HitRatio = float64(hits) / float64(total)
	}
	return metrics
}

// matchPattern сопоставляет ключ с шаблоном "prefix*" или точной строкой.
func matchPattern(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}
