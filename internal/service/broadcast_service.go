package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/field-service/internal/events"
)

// BroadcastService forwards committed domain events to the real-time UI
// feed. Delivery is fire-and-forget; a dropped broadcast is logged and
// never surfaced to the producer.
type BroadcastService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	webhookURL string
	client     *http.Client
}

// NewBroadcastService creates the service.
func NewBroadcastService(dispatcher events.Dispatcher, logger *zap.Logger, webhookURL string) *BroadcastService {
	return &BroadcastService{
		dispatcher: dispatcher,
		logger:     logger,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// RegisterHandlers subscribes to every event type the services publish.
func (b *BroadcastService) RegisterHandlers() {
	if b.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketApproved,
		events.EventTicketRejected,
		events.EventTicketStatusChanged,
		events.EventTicketAssigned,
		events.EventAssignmentConfirmed,
		events.EventEnvelopeFailed,
	} {
		b.dispatcher.Subscribe(eventType, b.handle)
	}
}

func (b *BroadcastService) handle(ctx context.Context, event events.Event) error {
	b.logger.Info("broadcast",
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.Any("payload", event.Payload))
	b.pushWebhook(ctx, event)
	return nil
}

func (b *BroadcastService) pushWebhook(ctx context.Context, event events.Event) {
	if b.webhookURL == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Debug("broadcast webhook failed", zap.Error(err))
		return
	}
	_ = resp.Body.Close()
}
