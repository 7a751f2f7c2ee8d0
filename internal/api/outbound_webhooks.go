package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/reef-world/internal/eventbus"
	"github.com/annel0/reef-world/internal/logging"
)

// OutboundWebhook представляет исходящий webhook
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // Типы событий, на которые подписан
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // Таймаут в секундах
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// webhookDelivery — полезная нагрузка, уходящая на URL webhook'а
type webhookDelivery struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	ServerID  string          `json:"server_id"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// EventForwarder пересылает события мира внешним HTTP-потребителям.
// Подписывается на шину событий и доставляет каждое событие всем
// webhook'ам, подписанным на его тип. Доставка асинхронная, сбой
// доставки не влияет на обработку события в мире.
type EventForwarder struct {
	webhooks   map[uint64]*OutboundWebhook
	queue      chan *eventbus.Envelope
	mu         sync.RWMutex
	nextID     uint64
	httpClient *http.Client
	serverID   string
	bus        eventbus.EventBus
	sub        eventbus.Subscription
}

// NewEventForwarder создает форвардер событий. Шина может быть nil,
// тогда форвардер хранит webhook'и, но ничего не доставляет.
func NewEventForwarder(serverID string, bus eventbus.EventBus) *EventForwarder {
	f := &EventForwarder{
		webhooks: make(map[uint64]*OutboundWebhook),
		queue:    make(chan *eventbus.Envelope, 1000),
		nextID:   1,
		serverID: serverID,
		bus:      bus,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	go f.deliveryWorker()

	return f
}

// Start подписывает форвардер на все события мира.
func (f *EventForwarder) Start() error {
	if f.bus == nil {
		return nil
	}

	sub, err := f.bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		select {
		case f.queue <- ev:
		default:
			logging.Warn("Очередь webhook'ов переполнена, событие %s пропущено", ev.EventType)
		}
	})
	if err != nil {
		return err
	}
	f.sub = sub
	return nil
}

// Stop отписывает форвардер от шины. Уже поставленные в очередь
// события продолжают доставляться.
func (f *EventForwarder) Stop() {
	if f.sub != nil {
		f.sub.Unsubscribe()
		f.sub = nil
	}
}

// AddWebhook добавляет новый webhook
func (f *EventForwarder) AddWebhook(webhook OutboundWebhook) *OutboundWebhook {
	f.mu.Lock()
	defer f.mu.Unlock()

	webhook.ID = f.nextID
	f.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true

	if webhook.Timeout == 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount == 0 {
		webhook.RetryCount = 3
	}

	f.webhooks[webhook.ID] = &webhook
	return &webhook
}

// Webhooks возвращает список всех webhook'ов
func (f *EventForwarder) Webhooks() []*OutboundWebhook {
	f.mu.RLock()
	defer f.mu.RUnlock()

	webhooks := make([]*OutboundWebhook, 0, len(f.webhooks))
	for _, webhook := range f.webhooks {
		webhooks = append(webhooks, webhook)
	}
	return webhooks
}

// Webhook возвращает webhook по ID
func (f *EventForwarder) Webhook(id uint64) *OutboundWebhook {
	f.mu.RLock()
	defer f.mu.RUnlock()

	webhook, exists := f.webhooks[id]
	if !exists {
		return nil
	}
	return webhook
}

// UpdateWebhook обновляет webhook
func (f *EventForwarder) UpdateWebhook(id uint64, updates OutboundWebhook) *OutboundWebhook {
	f.mu.Lock()
	defer f.mu.Unlock()

	webhook, exists := f.webhooks[id]
	if !exists {
		return nil
	}

	if updates.Name != "" {
		webhook.Name = updates.Name
	}
	if updates.URL != "" {
		webhook.URL = updates.URL
	}
	if updates.Secret != "" {
		webhook.Secret = updates.Secret
	}
	if len(updates.Events) > 0 {
		webhook.Events = updates.Events
	}
	if updates.Timeout > 0 {
		webhook.Timeout = updates.Timeout
	}
	if updates.RetryCount >= 0 {
		webhook.RetryCount = updates.RetryCount
	}
	webhook.Active = updates.Active

	return webhook
}

// DeleteWebhook удаляет webhook
func (f *EventForwarder) DeleteWebhook(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, exists := f.webhooks[id]
	if !exists {
		return false
	}

	delete(f.webhooks, id)
	return true
}

// deliveryWorker обрабатывает события из очереди
func (f *EventForwarder) deliveryWorker() {
	for ev := range f.queue {
		f.processEvent(ev)
	}
}

// processEvent рассылает одно событие всем подписанным webhook'ам
func (f *EventForwarder) processEvent(ev *eventbus.Envelope) {
	f.mu.RLock()
	targets := make([]*OutboundWebhook, 0)
	for _, webhook := range f.webhooks {
		if webhook.Active && subscribedTo(webhook, ev.EventType) {
			targets = append(targets, webhook)
		}
	}
	f.mu.RUnlock()

	for _, webhook := range targets {
		go f.deliver(webhook, ev)
	}
}

// subscribedTo проверяет, подписан ли webhook на тип события
func subscribedTo(webhook *OutboundWebhook, eventType string) bool {
	for _, subscribed := range webhook.Events {
		if subscribed == eventType || subscribed == "*" {
			return true
		}
	}
	return false
}

// deliver отправляет событие конкретному webhook'у с повторами
func (f *EventForwarder) deliver(webhook *OutboundWebhook, ev *eventbus.Envelope) {
	jsonData, err := json.Marshal(webhookDelivery{
		EventID:   ev.ID,
		EventType: ev.EventType,
		Timestamp: ev.Timestamp.Unix(),
		ServerID:  f.serverID,
		Source:    ev.Source,
		Payload:   ev.Payload,
	})
	if err != nil {
		logging.Error("Ошибка маршалинга события для webhook %s: %v", webhook.Name, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(webhook.Timeout)*time.Second)
	defer cancel()

	success := false
	for attempt := 0; attempt <= webhook.RetryCount; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", webhook.URL, bytes.NewReader(jsonData))
		if err != nil {
			logging.Error("Ошибка создания запроса для webhook %s: %v", webhook.Name, err)
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Reef-World-Server/1.0")
		req.Header.Set("X-Event-Type", ev.EventType)
		req.Header.Set("X-Server-ID", f.serverID)

		if webhook.Secret != "" {
			req.Header.Set("X-Webhook-Signature", signPayload(jsonData, webhook.Secret))
		}

		resp, err := f.httpClient.Do(req)
		if err != nil {
			logging.Warn("Попытка %d/%d для webhook %s: %v", attempt+1, webhook.RetryCount+1, webhook.Name, err)
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			success = true
			resp.Body.Close()
			break
		}

		logging.Warn("Webhook %s вернул статус %d на попытке %d", webhook.Name, resp.StatusCode, attempt+1)
		resp.Body.Close()
		if attempt < webhook.RetryCount {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}

	f.mu.Lock()
	now := time.Now()
	webhook.LastUsed = &now
	if !success {
		webhook.FailureCount++
	}
	f.mu.Unlock()
}

// signPayload генерирует HMAC подпись полезной нагрузки
func signPayload(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// EventTypes возвращает типы событий мира, доступные для подписки
func (f *EventForwarder) EventTypes() []string {
	return []string{
		eventbus.EventAgentMoved,
		eventbus.EventAgentEntered,
		eventbus.EventAgentLeft,
		eventbus.EventStructureBuilt,
		eventbus.EventStructureRemoved,
		eventbus.EventFollowStarted,
		eventbus.EventFollowStopped,
	}
}
