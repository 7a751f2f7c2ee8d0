package storage

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
)

// MemoryStructureRepo реализует StructureRepo в памяти.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryStructureRepo struct {
	mu   sync.RWMutex
	data map[string]*entity.Structure
}

// NewMemoryStructureRepo создает новый репозиторий структур в памяти.
func NewMemoryStructureRepo() *MemoryStructureRepo {
	return &MemoryStructureRepo{
		data: make(map[string]*entity.Structure),
	}
}

// Create сохраняет новую структуру.
func (r *MemoryStructureRepo) Create(ctx context.Context, s *entity.Structure) error {
	if s.ID == "" {
		return apperr.New(apperr.KindValidation, "пустой идентификатор структуры")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[s.ID]; exists {
		return apperr.New(apperr.KindConflict, "структура %s уже существует", s.ID)
	}

	stored := *s
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.data[s.ID] = &stored
	return nil
}

// GetByID возвращает копию структуры.
func (r *MemoryStructureRepo) GetByID(ctx context.Context, id string) (*entity.Structure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.data[id]
	if !exists {
		return nil, apperr.New(apperr.KindNotFound, "структура %s не найдена", id)
	}
	copy := *s
	return &copy, nil
}

// List возвращает копии всех структур.
func (r *MemoryStructureRepo) List(ctx context.Context) ([]*entity.Structure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entity.Structure, 0, len(r.data))
	for _, s := range r.data {
		copy := *s
		result = append(result, &copy)
	}
	return result, nil
}

// Update перезаписывает изменяемые поля структуры.
func (r *MemoryStructureRepo) Update(ctx context.Context, s *entity.Structure) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.data[s.ID]
	if !exists {
		return apperr.New(apperr.KindNotFound, "структура %s не найдена", s.ID)
	}

	stored.Name = s.Name
	stored.Type = s.Type
	stored.Material = s.Material
	stored.Position = s.Position
	stored.Size = s.Size
	stored.ExternalRef = s.ExternalRef
	stored.UpdatedAt = time.Now()
	return nil
}

// Delete удаляет структуру.
func (r *MemoryStructureRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[id]; !exists {
		return apperr.New(apperr.KindNotFound, "структура %s не найдена", id)
	}
	delete(r.data, id)
	return nil
}

// ClearOwner обнуляет владельца у всех структур агента.
func (r *MemoryStructureRepo) ClearOwner(ctx context.Context, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.data {
		if s.OwnerID == ownerID {
			s.OwnerID = ""
			s.UpdatedAt = time.Now()
		}
	}
	return nil
}

// Close освобождает ресурсы репозитория.
func (r *MemoryStructureRepo) Close() error {
	return nil
}

// Count возвращает количество структур (для отладки и тестов).
func (r *MemoryStructureRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
