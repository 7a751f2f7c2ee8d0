package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/vec"
	"github.com/go-sql-driver/mysql"
)

// MariaAgentRepo реализует AgentRepo для базы данных MariaDB/MySQL.
// Использует таблицу agents для хранения позиций.
type MariaAgentRepo struct {
	db *sql.DB
}

// NewMariaAgentRepo создает новый репозиторий агентов для MariaDB.
// Автоматически создает таблицу, если она не существует.
//
// Параметры:
//
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname?parseTime=true)
//
// Возвращает:
//
//	*MariaAgentRepo - экземпляр репозитория
//	error - ошибка при подключении или создании таблицы
func NewMariaAgentRepo(dsn string) (*MariaAgentRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "не удалось подключиться к MariaDB")
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "не удалось проверить соединение с MariaDB")
	}

	repo := &MariaAgentRepo{db: db}

	// Создаем таблицу, если она не существует
	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// NewMariaAgentRepoWithDB создает репозиторий поверх существующего соединения.
// Используется, когда несколько репозиториев делят один пул соединений.
func NewMariaAgentRepoWithDB(db *sql.DB) (*MariaAgentRepo, error) {
	repo := &MariaAgentRepo{db: db}
	if err := repo.createTable(); err != nil {
		return nil, err
	}
	return repo, nil
}

// createTable создает таблицу agents, если она не существует.
func (r *MariaAgentRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS agents (
			id         VARCHAR(64)  PRIMARY KEY,
			name       VARCHAR(100) NOT NULL,
			x          DOUBLE       NOT NULL DEFAULT 0,
			y          DOUBLE       NOT NULL DEFAULT 0,
			z          DOUBLE       NOT NULL DEFAULT 0,
			vx         DOUBLE       NOT NULL DEFAULT 0,
			vy         DOUBLE       NOT NULL DEFAULT 0,
			vz         DOUBLE       NOT NULL DEFAULT 0,
			yaw        DOUBLE       NOT NULL DEFAULT 0,
			pitch      DOUBLE       NOT NULL DEFAULT 0,
			roll       DOUBLE       NOT NULL DEFAULT 0,
			animation  VARCHAR(16)  NOT NULL DEFAULT 'idle',
			active     TINYINT(1)   NOT NULL DEFAULT 0,
			updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			UNIQUE KEY idx_name (name),
			INDEX idx_active_updated (active, updated_at)
		) ENGINE=InnoDB
	`

	if _, err := r.db.Exec(query); err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка создания таблицы agents")
	}
	return nil
}

// Create создает запись агента при регистрации.
func (r *MariaAgentRepo) Create(ctx context.Context, agent *entity.Agent) error {
	if agent.ID == "" {
		return apperr.New(apperr.KindValidation, "пустой идентификатор агента")
	}

	query := `
		INSERT INTO agents (id, name, x, y, z, animation, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NOW(3))
	`

	_, err := r.db.ExecContext(ctx, query,
		agent.ID, agent.Name,
		agent.Position.X, agent.Position.Y, agent.Position.Z,
		string(agent.Animation), agent.Active)
	if err != nil {
		if isDuplicateKey(err) {
			return apperr.Wrap(apperr.KindConflict, err, "агент %s уже существует", agent.ID)
		}
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка создания агента %s", agent.ID)
	}
	return nil
}

// UpsertPosition заменяет изменяемые поля позиции существующего агента.
// Запись однострочная и автокоммитящаяся.
func (r *MariaAgentRepo) UpsertPosition(ctx context.Context, id string, pos, vel vec.Vec3, orient entity.Orientation, anim entity.Animation) error {
	if id == "" {
		return apperr.New(apperr.KindValidation, "пустой идентификатор агента")
	}

	query := `
		UPDATE agents SET
			x = ?, y = ?, z = ?,
			vx = ?, vy = ?, vz = ?,
			yaw = ?, pitch = ?, roll = ?,
			animation = ?,
			updated_at = NOW(3)
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		pos.X, pos.Y, pos.Z,
		vel.X, vel.Y, vel.Z,
		orient.Yaw, orient.Pitch, orient.Roll,
		string(anim), id)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обновления позиции агента %s", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка получения количества затронутых строк")
	}
	if affected == 0 {
		// updated_at меняется на каждом вызове, поэтому 0 строк означает
		// отсутствие записи, а не запись без изменений
		return apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}
	return nil
}

// SetActive переключает флаг активности агента.
func (r *MariaAgentRepo) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE agents SET active = ?, updated_at = NOW(3) WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка переключения активности агента %s", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка получения количества затронутых строк")
	}
	if affected == 0 {
		return apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}
	return nil
}

const agentColumns = `id, name, x, y, z, vx, vy, vz, yaw, pitch, roll, animation, active, updated_at`

// GetByID возвращает запись агента по идентификатору.
func (r *MariaAgentRepo) GetByID(ctx context.Context, id string) (*entity.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// GetByName возвращает запись агента по имени.
func (r *MariaAgentRepo) GetByName(ctx context.Context, name string) (*entity.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE name = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, name), name)
}

// ListActive возвращает всех активных агентов.
func (r *MariaAgentRepo) ListActive(ctx context.Context) ([]*entity.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE active = 1`
	return r.queryAgents(ctx, query)
}

// ListActiveUpdatedBefore возвращает активных агентов, устаревших раньше cutoff.
func (r *MariaAgentRepo) ListActiveUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*entity.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE active = 1 AND updated_at < ?`
	return r.queryAgents(ctx, query, cutoff)
}

// Delete удаляет запись агента.
func (r *MariaAgentRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка удаления агента %s", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка получения количества затронутых строк")
	}
	if affected == 0 {
		return apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (r *MariaAgentRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// scanOne читает одну строку агента.
func (r *MariaAgentRepo) scanOne(row *sql.Row, ref string) (*entity.Agent, error) {
	var a entity.Agent
	var anim string
	err := row.Scan(&a.ID, &a.Name,
		&a.Position.X, &a.Position.Y, &a.Position.Z,
		&a.Velocity.X, &a.Velocity.Y, &a.Velocity.Z,
		&a.Orientation.Yaw, &a.Orientation.Pitch, &a.Orientation.Roll,
		&anim, &a.Active, &a.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "агент %s не найден", ref)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка загрузки агента %s", ref)
	}

	a.Animation = entity.Animation(anim)
	return &a, nil
}

// queryAgents выполняет запрос, возвращающий множество агентов.
func (r *MariaAgentRepo) queryAgents(ctx context.Context, query string, args ...interface{}) ([]*entity.Agent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка выборки агентов")
	}
	defer rows.Close()

	result := make([]*entity.Agent, 0)
	for rows.Next() {
		var a entity.Agent
		var anim string
		if err := rows.Scan(&a.ID, &a.Name,
			&a.Position.X, &a.Position.Y, &a.Position.Z,
			&a.Velocity.X, &a.Velocity.Y, &a.Velocity.Z,
			&a.Orientation.Yaw, &a.Orientation.Pitch, &a.Orientation.Roll,
			&anim, &a.Active, &a.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка чтения строки агента")
		}
		a.Animation = entity.Animation(anim)
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обхода выборки агентов")
	}
	return result, nil
}

// isDuplicateKey распознает нарушение уникального ключа MySQL (код 1062).
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
