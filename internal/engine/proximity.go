package engine

import (
	"context"
	"sort"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/vec"
)

// Пределы пространственных запросов.
const (
	DefaultRadius = 50.0
	MinRadius     = 1.0
	MaxRadius     = 300.0

	MaxNearbyAgents     = 50
	MaxNearbyStructures = 100
)

// AgentHit — активный агент в радиусе запроса.
type AgentHit struct {
	Agent    *entity.Agent `json:"agent"`
	Distance float64       `json:"distance"`
}

// StructureHit — структура в радиусе запроса.
type StructureHit struct {
	Structure *entity.Structure `json:"structure"`
	Distance  float64           `json:"distance"`
}

// clampRadius приводит радиус к допустимому диапазону; 0 означает умолчание.
func clampRadius(radius float64) float64 {
	if radius == 0 {
		return DefaultRadius
	}
	if radius < MinRadius {
		return MinRadius
	}
	if radius > MaxRadius {
		return MaxRadius
	}
	return radius
}

// NearbyAgents возвращает активных агентов в радиусе от точки,
// по возрастанию дистанции, не больше MaxNearbyAgents. Агент excludeID
// (обычно сам запрашивающий) исключается из выборки.
//
// Линейный проход по durable-хранилищу: при десятках-сотнях живых
// агентов пространственный индекс не нужен.
func (e *Engine) NearbyAgents(ctx context.Context, center vec.Vec3, radius float64, excludeID string) ([]AgentHit, error) {
	if !center.IsFinite() {
		return nil, apperr.New(apperr.KindValidation, "координаты центра должны быть конечными числами")
	}
	radius = clampRadius(radius)

	agents, err := e.agents.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	hits := make([]AgentHit, 0)
	for _, a := range agents {
		if a.ID == excludeID {
			continue
		}
		d := center.DistanceTo(a.Position)
		if d <= radius {
			hits = append(hits, AgentHit{Agent: a, Distance: d})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > MaxNearbyAgents {
		hits = hits[:MaxNearbyAgents]
	}
	return hits, nil
}

// NearbyStructures возвращает структуры в радиусе от точки,
// по возрастанию дистанции, не больше MaxNearbyStructures.
// У структур нет флага активности, учитываются все.
func (e *Engine) NearbyStructures(ctx context.Context, center vec.Vec3, radius float64) ([]StructureHit, error) {
	if !center.IsFinite() {
		return nil, apperr.New(apperr.KindValidation, "координаты центра должны быть конечными числами")
	}
	radius = clampRadius(radius)

	structures, err := e.structures.List(ctx)
	if err != nil {
		return nil, err
	}

	hits := make([]StructureHit, 0)
	for _, s := range structures {
		d := center.DistanceTo(s.Position)
		if d <= radius {
			hits = append(hits, StructureHit{Structure: s, Distance: d})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > MaxNearbyStructures {
		hits = hits[:MaxNearbyStructures]
	}
	return hits, nil
}

// NearbyFor выполняет пространственный запрос от имени агента вокруг его
// авторитетной позиции. Агент вне мира запрашивать окружение не может.
func (e *Engine) NearbyFor(ctx context.Context, agentID string, radius float64) ([]AgentHit, []StructureHit, error) {
	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}
	if !agent.Active {
		return nil, nil, apperr.New(apperr.KindState, "агент %s вне мира", agentID)
	}
	return e.Nearby(ctx, agent.Position, radius, agentID)
}

// Nearby объединяет оба пространственных запроса вокруг одной точки.
func (e *Engine) Nearby(ctx context.Context, center vec.Vec3, radius float64, excludeID string) ([]AgentHit, []StructureHit, error) {
	agents, err := e.NearbyAgents(ctx, center, radius, excludeID)
	if err != nil {
		return nil, nil, err
	}
	structures, err := e.NearbyStructures(ctx, center, radius)
	if err != nil {
		return nil, nil, err
	}
	return agents, structures, nil
}
