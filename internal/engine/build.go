package engine

import (
	"context"
	"math"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/eventbus"
	"github.com/annel0/reef-world/internal/logging"
	"github.com/annel0/reef-world/internal/physics"
	"github.com/annel0/reef-world/internal/vec"
	"github.com/google/uuid"
)

// Пределы строительства.
const (
	MinStructureAxis = 1.0
	MaxStructureAxis = 50.0
	MaxStructureName = 100

	// Запас к радиусу поиска кандидатов на пересечение: покрывает
	// полудиагональ самой крупной допустимой структуры.
	collisionSearchBuffer = 50.0
)

// BuildRequest — запрос постройки структуры.
type BuildRequest struct {
	OwnerID     string
	Name        string
	Type        string
	Material    string
	Position    vec.Vec3
	Size        entity.Size
	ExternalRef string
}

// clampAxisSize приводит габарит к допустимому диапазону.
func clampAxisSize(v float64) float64 {
	if v < MinStructureAxis {
		return MinStructureAxis
	}
	if v > MaxStructureAxis {
		return MaxStructureAxis
	}
	return v
}

func structureBox(pos vec.Vec3, size entity.Size) physics.Box {
	return physics.NewBox(pos, size.Width, size.Length, size.Height)
}

// Build валидирует запрос, прогоняет проверку пересечений и создает
// структуру. При пересечении возвращается ConflictError с именем
// мешающей структуры.
func (e *Engine) Build(ctx context.Context, req BuildRequest) (*entity.Structure, error) {
	if req.Name == "" || len(req.Name) > MaxStructureName {
		return nil, apperr.New(apperr.KindValidation, "имя структуры должно быть непустым и не длиннее %d символов", MaxStructureName)
	}
	stype, err := entity.ParseStructureType(req.Type)
	if err != nil {
		return nil, err
	}
	material, err := entity.ParseMaterial(req.Material)
	if err != nil {
		return nil, err
	}
	if !req.Position.IsFinite() {
		return nil, apperr.New(apperr.KindValidation, "координаты структуры должны быть конечными числами")
	}
	if !e.bounds.Contains(req.Position) {
		return nil, apperr.New(apperr.KindValidation, "позиция структуры %+v вне границ мира", req.Position)
	}

	size := entity.Size{
		Width:  clampAxisSize(req.Size.Width),
		Length: clampAxisSize(req.Size.Length),
		Height: clampAxisSize(req.Size.Height),
	}

	owner, err := e.agents.GetByID(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if !owner.Active {
		return nil, apperr.New(apperr.KindState, "агент %s вне мира и не может строить", req.OwnerID)
	}

	if offending, err := e.findCollision(ctx, req.Position, size, ""); err != nil {
		return nil, err
	} else if offending != nil {
		buildCollisions.Inc()
		return nil, apperr.New(apperr.KindConflict,
			"пересечение со структурой %s (%s)", offending.ID, offending.Name)
	}

	s := &entity.Structure{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Type:        stype,
		Material:    material,
		Position:    req.Position,
		Size:        size,
		ExternalRef: req.ExternalRef,
	}
	if err := e.structures.Create(ctx, s); err != nil {
		return nil, err
	}

	e.publish(ctx, eventbus.NewWorldEvent(eventbus.EventStructureBuilt, 5, eventbus.StructurePayload{
		StructureID: s.ID,
		OwnerID:     s.OwnerID,
		Type:        string(s.Type),
		Material:    string(s.Material),
		Position:    s.Position,
	}))

	builds.Inc()
	logging.Info("🏗️ Агент %s построил %s %q на %+v", req.OwnerID, s.Type, s.Name, s.Position)
	return s, nil
}

// findCollision ищет первую существующую структуру, пересекающую
// предложенный бокс. excludeID исключает саму структуру при патче.
// Радиус поиска кандидатов: полудиагональ предлагаемого бокса плюс запас
// на полудиагональ кандидата.
func (e *Engine) findCollision(ctx context.Context, pos vec.Vec3, size entity.Size, excludeID string) (*entity.Structure, error) {
	proposed := structureBox(pos, size)
	searchRadius := math.Min(proposed.HalfDiagonal()+collisionSearchBuffer, MaxRadius)

	candidates, err := e.NearbyStructures(ctx, pos, searchRadius)
	if err != nil {
		return nil, err
	}
	for _, hit := range candidates {
		if hit.Structure.ID == excludeID {
			continue
		}
		if proposed.Overlaps(structureBox(hit.Structure.Position, hit.Structure.Size)) {
			return hit.Structure, nil
		}
	}
	return nil, nil
}

// GetStructure возвращает структуру по идентификатору.
func (e *Engine) GetStructure(ctx context.Context, id string) (*entity.Structure, error) {
	return e.structures.GetByID(ctx, id)
}

// PatchStructure применяет изменения к структуре от имени владельца.
// Изменение позиции или габаритов заново проходит проверку пересечений.
func (e *Engine) PatchStructure(ctx context.Context, structureID, ownerID string, patch entity.StructurePatch) (*entity.Structure, error) {
	s, err := e.structures.GetByID(ctx, structureID)
	if err != nil {
		return nil, err
	}
	if s.OwnerID != ownerID {
		return nil, apperr.New(apperr.KindState, "структура %s не принадлежит агенту %s", structureID, ownerID)
	}

	if patch.Name != nil {
		if *patch.Name == "" || len(*patch.Name) > MaxStructureName {
			return nil, apperr.New(apperr.KindValidation, "имя структуры должно быть непустым и не длиннее %d символов", MaxStructureName)
		}
		s.Name = *patch.Name
	}
	if patch.Type != nil {
		stype, err := entity.ParseStructureType(string(*patch.Type))
		if err != nil {
			return nil, err
		}
		s.Type = stype
	}
	if patch.Material != nil {
		material, err := entity.ParseMaterial(string(*patch.Material))
		if err != nil {
			return nil, err
		}
		s.Material = material
	}

	geometryChanged := false
	if patch.Position != nil {
		if !patch.Position.IsFinite() {
			return nil, apperr.New(apperr.KindValidation, "координаты структуры должны быть конечными числами")
		}
		if !e.bounds.Contains(*patch.Position) {
			return nil, apperr.New(apperr.KindValidation, "позиция структуры %+v вне границ мира", *patch.Position)
		}
		s.Position = *patch.Position
		geometryChanged = true
	}
	if patch.Size != nil {
		s.Size = entity.Size{
			Width:  clampAxisSize(patch.Size.Width),
			Length: clampAxisSize(patch.Size.Length),
			Height: clampAxisSize(patch.Size.Height),
		}
		geometryChanged = true
	}

	if geometryChanged {
		if offending, err := e.findCollision(ctx, s.Position, s.Size, s.ID); err != nil {
			return nil, err
		} else if offending != nil {
			buildCollisions.Inc()
			return nil, apperr.New(apperr.KindConflict,
				"пересечение со структурой %s (%s)", offending.ID, offending.Name)
		}
	}

	if err := e.structures.Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteStructure удаляет структуру от имени владельца.
func (e *Engine) DeleteStructure(ctx context.Context, structureID, ownerID string) error {
	s, err := e.structures.GetByID(ctx, structureID)
	if err != nil {
		return err
	}
	if s.OwnerID != ownerID {
		return apperr.New(apperr.KindState, "структура %s не принадлежит агенту %s", structureID, ownerID)
	}

	if err := e.structures.Delete(ctx, structureID); err != nil {
		return err
	}

	e.publish(ctx, eventbus.NewWorldEvent(eventbus.EventStructureRemoved, 5, eventbus.StructurePayload{
		StructureID: s.ID,
		OwnerID:     s.OwnerID,
		Type:        string(s.Type),
		Material:    string(s.Material),
		Position:    s.Position,
	}))

	logging.Info("Агент %s снес структуру %s (%s)", ownerID, structureID, s.Name)
	return nil
}
