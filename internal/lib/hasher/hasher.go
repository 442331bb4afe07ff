package hasher

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxSecretLen - предел bcrypt, все что длиннее молча обрезалось бы.
const MaxSecretLen = 72

var ErrInputTooLarge = errors.New("secret is too large")

// Bcrypt хеширует пароли и OTP коды. При DefaultCost проверка занимает десятки миллисекунд.
type Bcrypt struct {
	cost int
}

func New(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &Bcrypt{cost: cost}
}

func (h *Bcrypt) Hash(secret string) ([]byte, error) {
	const op = "hasher.Hash"

	if len(secret) > MaxSecretLen {
		return nil, fmt.Errorf("%s: %w", op, ErrInputTooLarge)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return hash, nil
}

func (h *Bcrypt) Verify(secret string, digest []byte) bool {
	if len(secret) > MaxSecretLen || len(digest) == 0 {
		return false
	}

	return bcrypt.CompareHashAndPassword(digest, []byte(secret)) == nil
}

// * Digest считает SHA-256 от высокоэнтропийного токена, чтобы искать его по индексу
func Digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// * Equal сравнивает дайджесты за постоянное время
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
