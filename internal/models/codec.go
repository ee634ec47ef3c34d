package models

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeEvent сериализует событие для шины и payload_json журнала
func EncodeEvent(ev *NormalizedEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent разбирает и валидирует событие из шины.
// Ошибка оборачивает ErrInvalidEvent, если сообщение нельзя обработать.
func DecodeEvent(data []byte) (*NormalizedEvent, error) {
	var ev NormalizedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// EncodeAlert сериализует алерт для шины
func EncodeAlert(a *AlertEvent) ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAlert разбирает и валидирует алерт из шины
func DecodeAlert(data []byte) (*AlertEvent, error) {
	var a AlertEvent
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// MarshalDetails сериализует произвольные детали алерта
func MarshalDetails(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
