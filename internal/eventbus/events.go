package eventbus

import (
	"encoding/json"
	"time"

	"github.com/annel0/reef-world/internal/vec"
	"github.com/google/uuid"
)

// Типы событий мира.
const (
	EventAgentMoved       = "agent.moved"
	EventAgentEntered     = "agent.entered"
	EventAgentLeft        = "agent.left"
	EventStructureBuilt   = "structure.built"
	EventStructureRemoved = "structure.removed"
	EventFollowStarted    = "follow.started"
	EventFollowStopped    = "follow.stopped"
)

// SourceWorld — имя сервиса-источника для событий движка мира.
const SourceWorld = "reef-world"

// AgentMovedPayload — полезная нагрузка события agent.moved
type AgentMovedPayload struct {
	AgentID   string   `json:"agent_id"`
	Position  vec.Vec3 `json:"position"`
	Velocity  vec.Vec3 `json:"velocity"`
	Animation string   `json:"animation"`
	Clamped   bool     `json:"clamped,omitempty"`
}

// AgentLifecyclePayload — полезная нагрузка agent.entered и agent.left
type AgentLifecyclePayload struct {
	AgentID  string   `json:"agent_id"`
	Name     string   `json:"name,omitempty"`
	Position vec.Vec3 `json:"position"`
	Reason   string   `json:"reason,omitempty"` // "exit" | "inactivity"
}

// StructurePayload — полезная нагрузка structure.built и structure.removed
type StructurePayload struct {
	StructureID string   `json:"structure_id"`
	OwnerID     string   `json:"owner_id,omitempty"`
	Type        string   `json:"type"`
	Material    string   `json:"material"`
	Position    vec.Vec3 `json:"position"`
}

// FollowPayload — полезная нагрузка follow.started и follow.stopped
type FollowPayload struct {
	FollowerID string  `json:"follower_id"`
	TargetID   string  `json:"target_id"`
	Distance   float64 `json:"distance,omitempty"`
}

// NewWorldEvent упаковывает полезную нагрузку в Envelope.
// Ошибки сериализации здесь невозможны: все payload-структуры
// состоят из сериализуемых полей.
func NewWorldEvent(eventType string, priority int, payload interface{}) *Envelope {
	data, _ := json.Marshal(payload)
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    SourceWorld,
		EventType: eventType,
		Version:   1,
		Priority:  priority,
		Payload:   data,
	}
}
