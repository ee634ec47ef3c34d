package risk

import (
	stdjson "encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"escrowflow/internal/config"
	"escrowflow/internal/models"
)

// Идентификаторы правил
const (
	RuleLargeAmount = "large_amount"
	RuleFreqCancel  = "freq_cancel"
	RuleSelfFill    = "self_fill"
	RuleFastFill    = "fast_fill"
)

// Thresholds параметры встроенных правил
type Thresholds struct {
	LargeAmount     decimal.Decimal
	CancelThreshold int
	CancelWindow    time.Duration
	FastFillSlots   uint64
}

// ThresholdsFromConfig разбирает пороги из конфигурации
func ThresholdsFromConfig(cfg config.RiskConfig) (Thresholds, error) {
	large, err := decimal.NewFromString(cfg.LargeAmountThreshold)
	if err != nil {
		return Thresholds{}, fmt.Errorf("large_amount_threshold %q: %w", cfg.LargeAmountThreshold, err)
	}
	return Thresholds{
		LargeAmount:     large,
		CancelThreshold: cfg.CancelThreshold,
		CancelWindow:    cfg.CancelWindow,
		FastFillSlots:   cfg.FastFillSlots,
	}, nil
}

// DefaultRegistry реестр со всеми встроенными правилами
func DefaultRegistry(t Thresholds) *Registry {
	r := NewRegistry()
	r.MustRegister(LargeAmountRule(t.LargeAmount))
	r.MustRegister(FreqCancelRule(t.CancelThreshold, t.CancelWindow))
	r.MustRegister(SelfFillRule())
	r.MustRegister(FastFillRule(t.FastFillSlots))
	return r
}

// newAlert алерт правила на событие. ts_ms берётся из события,
// чтобы повторная оценка давала тот же алерт.
func newAlert(rule Rule, ev *models.NormalizedEvent, details map[string]interface{}) (models.AlertEvent, error) {
	raw, err := models.MarshalDetails(details)
	if err != nil {
		return models.AlertEvent{}, err
	}
	offerID := ev.OfferID
	return models.AlertEvent{
		AlertID:  models.BuildAlertID(rule.ID, ev.EventID),
		RuleID:   rule.ID,
		Severity: rule.Severity,
		Maker:    ev.Maker,
		OfferID:  &offerID,
		TsMs:     ev.TsIngestMs,
		Details:  stdjson.RawMessage(raw),
	}, nil
}

// LargeAmountRule срабатывает, когда amount_a или amount_b не меньше порога
func LargeAmountRule(threshold decimal.Decimal) Rule {
	rule := Rule{ID: RuleLargeAmount, Severity: models.SeverityHigh}
	rule.Eval = func(ev *models.NormalizedEvent, _ HistoryView) ([]models.AlertEvent, error) {
		a, err := decimal.NewFromString(ev.AmountA)
		if err != nil {
			return nil, fmt.Errorf("amount_a %q: %w", ev.AmountA, err)
		}
		b, err := decimal.NewFromString(ev.AmountB)
		if err != nil {
			return nil, fmt.Errorf("amount_b %q: %w", ev.AmountB, err)
		}
		if a.LessThan(threshold) && b.LessThan(threshold) {
			return nil, nil
		}
		alert, err := newAlert(rule, ev, map[string]interface{}{
			"amount_a":   ev.AmountA,
			"amount_b":   ev.AmountB,
			"threshold":  threshold.String(),
			"event_type": ev.EventType,
		})
		if err != nil {
			return nil, err
		}
		return []models.AlertEvent{alert}, nil
	}
	return rule
}

// FreqCancelRule срабатывает, когда у maker за окно (по ts_ingest_ms)
// набралось threshold отмен, включая текущую
func FreqCancelRule(threshold int, window time.Duration) Rule {
	rule := Rule{ID: RuleFreqCancel, Severity: models.SeverityMedium}
	windowMs := window.Milliseconds()
	rule.Eval = func(ev *models.NormalizedEvent, h HistoryView) ([]models.AlertEvent, error) {
		if ev.EventType != models.EventOfferCancelled {
			return nil, nil
		}
		count := 1
		windowStart := ev.TsIngestMs
		for _, past := range h.MakerEvents(ev.Maker) {
			if past.EventType != models.EventOfferCancelled || past.EventID == ev.EventID {
				continue
			}
			if age := ev.TsIngestMs - past.TsIngestMs; age >= 0 && age <= windowMs {
				count++
				windowStart = min(windowStart, past.TsIngestMs)
			}
		}
		if count < threshold {
			return nil, nil
		}
		alert, err := newAlert(rule, ev, map[string]interface{}{
			"window_ms":    windowMs,
			"window_start": windowStart,
			"cancel_count": count,
			"threshold":    threshold,
		})
		if err != nil {
			return nil, err
		}
		return []models.AlertEvent{alert}, nil
	}
	return rule
}

// SelfFillRule срабатывает, когда maker сам исполнил свой оффер
func SelfFillRule() Rule {
	rule := Rule{ID: RuleSelfFill, Severity: models.SeverityMedium}
	rule.Eval = func(ev *models.NormalizedEvent, _ HistoryView) ([]models.AlertEvent, error) {
		if ev.EventType != models.EventOfferFilled || ev.Taker == nil || *ev.Taker != ev.Maker {
			return nil, nil
		}
		alert, err := newAlert(rule, ev, map[string]interface{}{"taker": *ev.Taker})
		if err != nil {
			return nil, err
		}
		return []models.AlertEvent{alert}, nil
	}
	return rule
}

// FastFillRule срабатывает, когда оффер исполнен не позже чем через slots
// слотов после создания (создание должно быть в истории)
func FastFillRule(slots uint64) Rule {
	rule := Rule{ID: RuleFastFill, Severity: models.SeverityLow}
	rule.Eval = func(ev *models.NormalizedEvent, h HistoryView) ([]models.AlertEvent, error) {
		if ev.EventType != models.EventOfferFilled {
			return nil, nil
		}
		for _, past := range h.OfferEvents(ev.OfferID) {
			if past.EventType != models.EventOfferCreated || past.Slot > ev.Slot {
				continue
			}
			if delta := ev.Slot - past.Slot; delta <= slots {
				alert, err := newAlert(rule, ev, map[string]interface{}{
					"created_slot": past.Slot,
					"filled_slot":  ev.Slot,
					"slots":        delta,
				})
				if err != nil {
					return nil, err
				}
				return []models.AlertEvent{alert}, nil
			}
		}
		return nil, nil
	}
	return rule
}
