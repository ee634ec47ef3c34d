package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	pubkeyLen    = 32
	signatureLen = 64
)

var (
	ErrEmptyValue    = errors.New("empty value")
	ErrInvalidBase58 = errors.New("invalid base58")
	ErrInvalidAmount = errors.New("invalid u64 amount")
)

// ValidatePubkey проверяет, что строка - base58 публичный ключ Solana (32 байта)
func ValidatePubkey(s string) error {
	return validateBase58(s, pubkeyLen)
}

// ValidateSignature проверяет base58 подпись транзакции (64 байта)
func ValidateSignature(s string) error {
	return validateBase58(s, signatureLen)
}

func validateBase58(s string, size int) error {
	if s == "" {
		return ErrEmptyValue
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBase58, err)
	}
	if len(raw) != size {
		return fmt.Errorf("%w: decoded %d bytes, want %d", ErrInvalidBase58, len(raw), size)
	}
	return nil
}

// NormalizeAmount проверяет, что строка - беззнаковое 64-битное целое, и
// возвращает каноническую десятичную запись (без ведущих нулей и знака).
func NormalizeAmount(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyValue
	}
	if strings.HasPrefix(s, "+") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return strconv.FormatUint(v, 10), nil
}
