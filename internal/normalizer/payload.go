package normalizer

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"escrowflow/internal/models"
	"escrowflow/pkg/utils"
)

// logPrefix - так рантайм оформляет строки msg!() программы
const logPrefix = "Program log: "

var (
	// ErrNotEvent - строка лога не является событием эскроу (обычный вывод программы)
	ErrNotEvent = errors.New("log line is not an escrow event")
	// ErrMalformedPayload - строка похожа на событие, но разобрать её нельзя
	ErrMalformedPayload = errors.New("malformed event payload")
)

// UseNumber: суммы u64 не проходят через float64
var payloadJSON = jsoniter.Config{UseNumber: true}.Froze()

// onchainEvent поля события, которые программа пишет в лог
type onchainEvent struct {
	Type    models.EventType
	OfferID string
	Maker   string
	Taker   *string
	MintA   string
	MintB   string
	AmountA string
	AmountB string
}

// parsePayload извлекает событие из строки лога.
// ErrNotEvent - строку надо молча пропустить; ErrMalformedPayload - с диагностикой.
func parsePayload(line string) (*onchainEvent, error) {
	body, ok := strings.CutPrefix(line, logPrefix)
	if !ok {
		return nil, ErrNotEvent
	}
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "{") {
		return nil, ErrNotEvent
	}

	// дешёвая проверка до полного разбора
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedPayload)
	}
	kind := gjson.Get(body, "event")
	if !kind.Exists() {
		return nil, ErrNotEvent
	}
	eventType := models.EventType(kind.String())
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformedPayload, kind.String())
	}

	var fields map[string]interface{}
	if err := payloadJSON.UnmarshalFromString(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev := &onchainEvent{Type: eventType}
	var err error
	if ev.OfferID, err = scalarField(fields, "offer_id"); err != nil {
		return nil, err
	}
	if ev.Maker, err = pubkeyField(fields, "maker"); err != nil {
		return nil, err
	}
	if ev.MintA, err = pubkeyField(fields, "mint_a"); err != nil {
		return nil, err
	}
	if ev.MintB, err = pubkeyField(fields, "mint_b"); err != nil {
		return nil, err
	}
	if ev.AmountA, err = amountField(fields, "amount_a"); err != nil {
		return nil, err
	}
	if ev.AmountB, err = amountField(fields, "amount_b"); err != nil {
		return nil, err
	}

	if raw, ok := fields["taker"]; ok && raw != nil {
		taker, err := pubkeyField(fields, "taker")
		if err != nil {
			return nil, err
		}
		ev.Taker = &taker
	}
	if eventType == models.EventOfferFilled && ev.Taker == nil {
		return nil, fmt.Errorf("%w: OfferFilled without taker", ErrMalformedPayload)
	}
	return ev, nil
}

// scalarField строка или число без потери точности
func scalarField(fields map[string]interface{}, key string) (string, error) {
	switch v := fields[key].(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("%w: empty %s", ErrMalformedPayload, key)
		}
		return v, nil
	case stdjson.Number:
		return v.String(), nil
	case nil:
		return "", fmt.Errorf("%w: missing %s", ErrMalformedPayload, key)
	default:
		return "", fmt.Errorf("%w: %s has type %T", ErrMalformedPayload, key, v)
	}
}

func pubkeyField(fields map[string]interface{}, key string) (string, error) {
	s, ok := fields[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformedPayload, key)
	}
	if err := utils.ValidatePubkey(s); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformedPayload, key, err)
	}
	return s, nil
}

func amountField(fields map[string]interface{}, key string) (string, error) {
	s, err := scalarField(fields, key)
	if err != nil {
		return "", err
	}
	amount, err := utils.NormalizeAmount(s)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformedPayload, key, err)
	}
	return amount, nil
}
