package storage

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/vec"
)

// MemoryAgentRepo реализует AgentRepo в памяти.
// Используется как fallback, когда MariaDB недоступна,
// или для CI/локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryAgentRepo struct {
	mu   sync.RWMutex
	data map[string]*entity.Agent
}

// NewMemoryAgentRepo создает новый репозиторий агентов в памяти.
func NewMemoryAgentRepo() *MemoryAgentRepo {
	return &MemoryAgentRepo{
		data: make(map[string]*entity.Agent),
	}
}

// Create создает запись агента при регистрации.
func (r *MemoryAgentRepo) Create(ctx context.Context, agent *entity.Agent) error {
	if agent.ID == "" {
		return apperr.New(apperr.KindValidation, "пустой идентификатор агента")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[agent.ID]; exists {
		return apperr.New(apperr.KindConflict, "агент %s уже существует", agent.ID)
	}

	stored := *agent
	stored.UpdatedAt = time.Now()
	r.data[agent.ID] = &stored
	return nil
}

// UpsertPosition заменяет изменяемые поля позиции существующего агента.
func (r *MemoryAgentRepo) UpsertPosition(ctx context.Context, id string, pos, vel vec.Vec3, orient entity.Orientation, anim entity.Animation) error {
	if id == "" {
		return apperr.New(apperr.KindValidation, "пустой идентификатор агента")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.data[id]
	if !exists {
		return apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}

	agent.Position = pos
	agent.Velocity = vel
	agent.Orientation = orient
	agent.Animation = anim
	agent.UpdatedAt = time.Now()
	return nil
}

// SetActive переключает флаг активности агента.
func (r *MemoryAgentRepo) SetActive(ctx context.Context, id string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.data[id]
	if !exists {
		return apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}

	agent.Active = active
	agent.UpdatedAt = time.Now()
	return nil
}

// GetByID возвращает копию записи агента.
func (r *MemoryAgentRepo) GetByID(ctx context.Context, id string) (*entity.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.data[id]
	if !exists {
		return nil, apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}

	copy := *agent
	return &copy, nil
}

// GetByName возвращает копию записи агента по имени.
func (r *MemoryAgentRepo) GetByName(ctx context.Context, name string) (*entity.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, agent := range r.data {
		if agent.Name == name {
			copy := *agent
			return &copy, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "агент с именем %q не найден", name)
}

// ListActive возвращает копии всех активных агентов.
func (r *MemoryAgentRepo) ListActive(ctx context.Context) ([]*entity.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entity.Agent, 0)
	for _, agent := range r.data {
		if agent.Active {
			copy := *agent
			result = append(result, &copy)
		}
	}
	return result, nil
}

// ListActiveUpdatedBefore возвращает активных агентов, устаревших раньше cutoff.
func (r *MemoryAgentRepo) ListActiveUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*entity.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entity.Agent, 0)
	for _, agent := range r.data {
		if agent.Active && agent.UpdatedAt.Before(cutoff) {
			copy := *agent
			result = append(result, &copy)
		}
	}
	return result, nil
}

// Delete удаляет запись агента.
func (r *MemoryAgentRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[id]; !exists {
		return apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}
	delete(r.data, id)
	return nil
}

// Close освобождает ресурсы репозитория.
func (r *MemoryAgentRepo) Close() error {
	return nil
}

// Count возвращает количество записей (для отладки и тестов).
func (r *MemoryAgentRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Clear очищает все записи (для тестов).
func (r *MemoryAgentRepo) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[string]*entity.Agent)
}
