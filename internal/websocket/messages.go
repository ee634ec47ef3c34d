package websocket

import "escrowflow/internal/models"

// MessageType тип сообщения потока /ws/stream
type MessageType string

const (
	// MessageTypeEvent - событие эскроу из escrow.events.v1
	MessageTypeEvent MessageType = "event"

	// MessageTypeAlert - алерт из escrow.alerts.v1
	MessageTypeAlert MessageType = "alert"
)

// StreamMessage конверт сообщения для клиента: {"type": ..., "data": ...}
type StreamMessage struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}

// NewEventMessage оборачивает событие
func NewEventMessage(ev *models.NormalizedEvent) *StreamMessage {
	return &StreamMessage{Type: MessageTypeEvent, Data: ev}
}

// NewAlertMessage оборачивает алерт
func NewAlertMessage(a *models.AlertEvent) *StreamMessage {
	return &StreamMessage{Type: MessageTypeAlert, Data: a}
}
