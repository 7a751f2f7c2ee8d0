package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/annel0/reef-world/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в общий лог.
// Известные события мира разворачиваются в читаемую строку, остальные
// логируются конвертом. Функция неблокирующая.
func StartLoggingListener(bus EventBus) error {
	_, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		logging.Debug("[EventBus] %s %s src=%s prio=%d %s", ev.ID, ev.EventType, ev.Source, ev.Priority, describeEvent(ev))
	})
	if err != nil {
		return err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return nil
}

// describeEvent разворачивает полезную нагрузку известных событий мира.
// Ошибки десериализации не фатальны: строка деградирует до размера payload.
func describeEvent(ev *Envelope) string {
	switch ev.EventType {
	case EventAgentMoved:
		var p AgentMovedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			return fmt.Sprintf("агент=%s pos=(%.1f, %.1f, %.1f) anim=%s", p.AgentID, p.Position.X, p.Position.Y, p.Position.Z, p.Animation)
		}
	case EventAgentEntered, EventAgentLeft:
		var p AgentLifecyclePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			if p.Reason != "" {
				return fmt.Sprintf("агент=%s причина=%s", p.AgentID, p.Reason)
			}
			return fmt.Sprintf("агент=%s", p.AgentID)
		}
	case EventStructureBuilt, EventStructureRemoved:
		var p StructurePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			return fmt.Sprintf("структура=%s тип=%s владелец=%s", p.StructureID, p.Type, p.OwnerID)
		}
	case EventFollowStarted, EventFollowStopped:
		var p FollowPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			return fmt.Sprintf("follower=%s цель=%s", p.FollowerID, p.TargetID)
		}
	}
	return fmt.Sprintf("size=%dB", len(ev.Payload))
}
