package handlers

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Коды ошибок API
const (
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidQuery = "INVALID_QUERY"
	CodeInternal     = "INTERNAL_ERROR"
	CodeBusy         = "BUSY"
)

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondWithError отправляет JSON ошибку
func respondWithError(w http.ResponseWriter, code int, errCode, message, details string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Code: errCode, Details: details})
}
