package storage

import (
	"context"
	"time"

	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/vec"
)

// AgentRepo определяет интерфейс durable-хранилища позиций агентов.
// Хранилище — источник истины: переживает перезапуски процесса.
// Записи однострочные и автокоммитящиеся; многострочные транзакции
// на этом уровне не требуются.
type AgentRepo interface {
	// Create создает запись агента при регистрации (неактивный, дефолтный спавн).
	// Возвращает ошибку конфликта, если агент с таким ID уже существует.
	Create(ctx context.Context, agent *entity.Agent) error

	// UpsertPosition заменяет изменяемые поля позиции и обновляет
	// метку последнего обновления. Возвращает ошибку "не найдено",
	// если агент не был создан при регистрации.
	UpsertPosition(ctx context.Context, id string, pos, vel vec.Vec3, orient entity.Orientation, anim entity.Animation) error

	// SetActive переключает флаг активности и обновляет метку времени.
	// Используется входом/выходом и sweep'ом Reconciler'а.
	SetActive(ctx context.Context, id string, active bool) error

	// GetByID возвращает запись агента по идентификатору.
	GetByID(ctx context.Context, id string) (*entity.Agent, error)

	// GetByName возвращает запись агента по человекочитаемому имени.
	GetByName(ctx context.Context, name string) (*entity.Agent, error)

	// ListActive возвращает всех активных агентов.
	ListActive(ctx context.Context) ([]*entity.Agent, error)

	// ListActiveUpdatedBefore возвращает активных агентов, чье последнее
	// обновление старше cutoff. Используется sweep'ом неактивности.
	ListActiveUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*entity.Agent, error)

	// Delete удаляет запись агента (удаление аккаунта коллаборатором).
	Delete(ctx context.Context, id string) error

	// Close закрывает соединение с хранилищем.
	Close() error
}
