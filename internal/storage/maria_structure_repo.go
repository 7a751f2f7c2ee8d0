package storage

import (
	"context"
	"database/sql"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	_ "github.com/go-sql-driver/mysql"
)

// MariaStructureRepo реализует StructureRepo для базы данных MariaDB/MySQL.
// Использует таблицу structures.
type MariaStructureRepo struct {
	db *sql.DB
}

// NewMariaStructureRepo создает новый репозиторий структур для MariaDB.
// Автоматически создает таблицу, если она не существует.
func NewMariaStructureRepo(dsn string) (*MariaStructureRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "не удалось подключиться к MariaDB")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "не удалось проверить соединение с MariaDB")
	}

	repo := &MariaStructureRepo{db: db}
	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewMariaStructureRepoWithDB создает репозиторий поверх существующего соединения.
func NewMariaStructureRepoWithDB(db *sql.DB) (*MariaStructureRepo, error) {
	repo := &MariaStructureRepo{db: db}
	if err := repo.createTable(); err != nil {
		return nil, err
	}
	return repo, nil
}

// createTable создает таблицу structures, если она не существует.
func (r *MariaStructureRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS structures (
			id           VARCHAR(64)  PRIMARY KEY,
			owner_id     VARCHAR(64)  NULL,
			name         VARCHAR(100) NOT NULL,
			type         VARCHAR(16)  NOT NULL,
			material     VARCHAR(16)  NOT NULL,
			x            DOUBLE       NOT NULL,
			y            DOUBLE       NOT NULL,
			z            DOUBLE       NOT NULL,
			width        DOUBLE       NOT NULL,
			length       DOUBLE       NOT NULL,
			height       DOUBLE       NOT NULL,
			external_ref VARCHAR(128) NULL,
			created_at   TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			updated_at   TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			INDEX idx_owner (owner_id)
		) ENGINE=InnoDB
	`

	if _, err := r.db.Exec(query); err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка создания таблицы structures")
	}
	return nil
}

// Create сохраняет новую структуру.
func (r *MariaStructureRepo) Create(ctx context.Context, s *entity.Structure) error {
	if s.ID == "" {
		return apperr.New(apperr.KindValidation, "пустой идентификатор структуры")
	}

	query := `
		INSERT INTO structures (id, owner_id, name, type, material, x, y, z, width, length, height, external_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, nullableString(s.OwnerID), s.Name, string(s.Type), string(s.Material),
		s.Position.X, s.Position.Y, s.Position.Z,
		s.Size.Width, s.Size.Length, s.Size.Height,
		nullableString(s.ExternalRef))
	if err != nil {
		if isDuplicateKey(err) {
			return apperr.Wrap(apperr.KindConflict, err, "структура %s уже существует", s.ID)
		}
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка создания структуры %s", s.ID)
	}
	return nil
}

const structureColumns = `id, owner_id, name, type, material, x, y, z, width, length, height, external_ref, created_at, updated_at`

// GetByID возвращает структуру по идентификатору.
func (r *MariaStructureRepo) GetByID(ctx context.Context, id string) (*entity.Structure, error) {
	query := `SELECT ` + structureColumns + ` FROM structures WHERE id = ?`

	var s entity.Structure
	var ownerID, externalRef sql.NullString
	var sType, material string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &ownerID, &s.Name, &sType, &material,
		&s.Position.X, &s.Position.Y, &s.Position.Z,
		&s.Size.Width, &s.Size.Length, &s.Size.Height,
		&externalRef, &s.CreatedAt, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "структура %s не найдена", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка загрузки структуры %s", id)
	}

	s.OwnerID = ownerID.String
	s.ExternalRef = externalRef.String
	s.Type = entity.StructureType(sType)
	s.Material = entity.Material(material)
	return &s, nil
}

// List возвращает все структуры мира.
func (r *MariaStructureRepo) List(ctx context.Context) ([]*entity.Structure, error) {
	query := `SELECT ` + structureColumns + ` FROM structures`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка выборки структур")
	}
	defer rows.Close()

	result := make([]*entity.Structure, 0)
	for rows.Next() {
		var s entity.Structure
		var ownerID, externalRef sql.NullString
		var sType, material string
		if err := rows.Scan(
			&s.ID, &ownerID, &s.Name, &sType, &material,
			&s.Position.X, &s.Position.Y, &s.Position.Z,
			&s.Size.Width, &s.Size.Length, &s.Size.Height,
			&externalRef, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка чтения строки структуры")
		}
		s.OwnerID = ownerID.String
		s.ExternalRef = externalRef.String
		s.Type = entity.StructureType(sType)
		s.Material = entity.Material(material)
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обхода выборки структур")
	}
	return result, nil
}

// Update перезаписывает изменяемые поля структуры.
func (r *MariaStructureRepo) Update(ctx context.Context, s *entity.Structure) error {
	query := `
		UPDATE structures SET
			name = ?, type = ?, material = ?,
			x = ?, y = ?, z = ?,
			width = ?, length = ?, height = ?,
			external_ref = ?,
			updated_at = NOW(3)
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		s.Name, string(s.Type), string(s.Material),
		s.Position.X, s.Position.Y, s.Position.Z,
		s.Size.Width, s.Size.Length, s.Size.Height,
		nullableString(s.ExternalRef), s.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обновления структуры %s", s.ID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка получения количества затронутых строк")
	}
	if affected == 0 {
		return apperr.New(apperr.KindNotFound, "структура %s не найдена", s.ID)
	}
	return nil
}

// Delete удаляет структуру.
func (r *MariaStructureRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM structures WHERE id = ?`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка удаления структуры %s", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка получения количества затронутых строк")
	}
	if affected == 0 {
		return apperr.New(apperr.KindNotFound, "структура %s не найдена", id)
	}
	return nil
}

// ClearOwner обнуляет владельца у всех структур агента.
// Структуры остаются в мире без владельца.
func (r *MariaStructureRepo) ClearOwner(ctx context.Context, ownerID string) error {
	query := `UPDATE structures SET owner_id = NULL, updated_at = NOW(3) WHERE owner_id = ?`

	if _, err := r.db.ExecContext(ctx, query, ownerID); err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обнуления владельца %s", ownerID)
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (r *MariaStructureRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// nullableString преобразует пустую строку в NULL.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
