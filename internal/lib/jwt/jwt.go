package jwt

import (
	"errors"
	"fmt"
	"time"

	"credential_service/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrNoSigningKey     = errors.New("no signing key configured")
)

type Key struct {
	ID     string
	Secret []byte
}

// KeyProvider отдает ключ для подписи и короткий список ключей, которым еще можно верить при проверке.
type KeyProvider interface {
	SigningKey() (Key, error)
	VerificationKeys() []Key
}

type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// * AccountID возвращает идентификатор аккаунта из subject
func (c *Claims) AccountID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// * NewToken создает подписанный access токен для аккаунта
func NewToken(keys KeyProvider, account models.Account, issuedAt time.Time, ttl time.Duration) (string, error) {
	const op = "jwt.NewToken"

	key, err := keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Email: account.Email,
		Role:  string(account.Role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID

	signed, err := token.SignedString(key.Secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// * ParseToken проверяет подпись по любому из действующих ключей и срок действия
func ParseToken(keys KeyProvider, tokenStr string, now func() time.Time) (*Claims, error) {
	const op = "jwt.ParseToken"

	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		kid, _ := t.Header["kid"].(string)
		for _, k := range keys.VerificationKeys() {
			if k.ID == kid {
				return k.Secret, nil
			}
		}

		return nil, fmt.Errorf("unknown key id %q", kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
	}

	return claims, nil
}

// StaticKeys - набор ключей из конфига. Первым для подписи берется активный ключ,
// остальные принимаются при проверке, пока их не уберут из конфига.
type StaticKeys struct {
	active Key
	keys   []Key
}

func NewStaticKeys(activeID string, keys []Key) (*StaticKeys, error) {
	const op = "jwt.NewStaticKeys"

	for _, k := range keys {
		if len(k.Secret) == 0 {
			return nil, fmt.Errorf("%s: key %q has empty secret", op, k.ID)
		}
	}

	for _, k := range keys {
		if k.ID == activeID {
			return &StaticKeys{active: k, keys: keys}, nil
		}
	}

	return nil, fmt.Errorf("%s: active key %q: %w", op, activeID, ErrNoSigningKey)
}

func (s *StaticKeys) SigningKey() (Key, error) {
	return s.active, nil
}

func (s *StaticKeys) VerificationKeys() []Key {
	return s.keys
}
