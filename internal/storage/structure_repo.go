package storage

import (
	"context"

	"github.com/annel0/reef-world/internal/entity"
)

// StructureRepo определяет интерфейс durable-хранилища построенных структур.
// Структуры не имеют флага активности: запросы близости видят их все.
type StructureRepo interface {
	// Create сохраняет новую структуру.
	Create(ctx context.Context, s *entity.Structure) error

	// GetByID возвращает структуру по идентификатору.
	GetByID(ctx context.Context, id string) (*entity.Structure, error)

	// List возвращает все структуры мира.
	List(ctx context.Context) ([]*entity.Structure, error)

	// Update перезаписывает изменяемые поля структуры.
	// Проверка владельца выполняется движком до вызова.
	Update(ctx context.Context, s *entity.Structure) error

	// Delete удаляет структуру.
	Delete(ctx context.Context, id string) error

	// ClearOwner обнуляет владельца у всех структур агента.
	// Вызывается при удалении агента: структуры остаются в мире без владельца.
	ClearOwner(ctx context.Context, ownerID string) error

	// Close закрывает соединение с хранилищем.
	Close() error
}
