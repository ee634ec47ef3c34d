package crypto

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"hex token", "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"},
		{"short token", "admin"},
		{"unicode token", "токен-админа"},
		{"max length", strings.Repeat("a", MaxTokenLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashToken(tt.token, bcrypt.MinCost)
			if err != nil {
				t.Fatalf("HashToken failed: %v", err)
			}
			if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
				t.Errorf("хеш должен начинаться с префикса bcrypt, получено %q", hash)
			}
			if err := VerifyToken(tt.token, hash); err != nil {
				t.Errorf("VerifyToken: %v", err)
			}
		})
	}
}

func TestHashToken_Errors(t *testing.T) {
	if _, err := HashToken("", bcrypt.MinCost); err != ErrEmptyToken {
		t.Errorf("пустой токен: %v, want %v", err, ErrEmptyToken)
	}
	if _, err := HashToken(strings.Repeat("a", MaxTokenLength+1), bcrypt.MinCost); err != ErrTokenTooLong {
		t.Errorf("длинный токен: %v, want %v", err, ErrTokenTooLong)
	}
}

func TestHashToken_ClampsCost(t *testing.T) {
	hash, err := HashToken("token", 1)
	if err != nil {
		t.Fatal(err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatal(err)
	}
	if cost != bcrypt.MinCost {
		t.Errorf("cost = %d, want %d", cost, bcrypt.MinCost)
	}
}

func TestVerifyToken(t *testing.T) {
	hash, err := HashToken("correct", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		hash  string
		want  error
	}{
		{"match", "correct", hash, nil},
		{"mismatch", "wrong", hash, ErrTokenMismatch},
		{"empty token", "", hash, ErrEmptyToken},
		{"empty hash", "correct", "", ErrInvalidHash},
		{"garbage hash", "correct", "not-a-bcrypt-hash", ErrInvalidHash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyToken(tt.token, tt.hash); got != tt.want {
				t.Errorf("VerifyToken() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateToken()

	if len(a) != 2*tokenBytes {
		t.Errorf("длина токена %d, want %d", len(a), 2*tokenBytes)
	}
	if a == b {
		t.Error("два токена не должны совпадать")
	}
}

func TestValidHash(t *testing.T) {
	hash, _ := HashToken("x", bcrypt.MinCost)
	if !ValidHash(hash) {
		t.Error("настоящий хеш должен проходить проверку")
	}
	if ValidHash("plain-text") {
		t.Error("не-хеш не должен проходить проверку")
	}
}

func BenchmarkVerifyToken(b *testing.B) {
	hash, _ := HashToken("bench", bcrypt.MinCost)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = VerifyToken("bench", hash)
	}
}
