package models

import (
	stdjson "encoding/json"
	"fmt"
)

// Severity уровень важности алерта
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertEvent алерт в шине escrow.alerts.v1
type AlertEvent struct {
	AlertID  string             `json:"alert_id"`
	RuleID   string             `json:"rule_id"`
	Severity Severity           `json:"severity"`
	Maker    string             `json:"maker"`
	OfferID  *string            `json:"offer_id"`
	TsMs     int64              `json:"ts_ms"`
	Details  stdjson.RawMessage `json:"details"`
}

// BuildAlertID детерминированный идентификатор алерта:
// повторная обработка того же события тем же правилом даёт тот же id
func BuildAlertID(ruleID, eventID string) string {
	return ruleID + ":" + eventID
}

// Validate проверяет обязательные поля алерта из шины
func (a *AlertEvent) Validate() error {
	switch {
	case a.AlertID == "":
		return fmt.Errorf("%w: empty alert_id", ErrInvalidEvent)
	case a.RuleID == "":
		return fmt.Errorf("%w: empty rule_id", ErrInvalidEvent)
	case a.Severity != SeverityLow && a.Severity != SeverityMedium && a.Severity != SeverityHigh:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, a.Severity)
	}
	return nil
}
