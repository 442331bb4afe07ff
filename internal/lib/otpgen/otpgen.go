package otpgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const Digits = 6

var upperBound = big.NewInt(1_000_000)

// Random выдает равномерно распределенные коды 000000-999999 из криптостойкого источника.
type Random struct {
	src io.Reader
}

func New() *Random {
	return &Random{src: rand.Reader}
}

func (g *Random) Generate() (string, error) {
	const op = "otpgen.Generate"

	n, err := rand.Int(g.src, upperBound)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Sprintf("%0*d", Digits, n.Int64()), nil
}

// * IsCode проверяет, что строка состоит ровно из шести цифр
func IsCode(s string) bool {
	if len(s) != Digits {
		return false
	}

	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}
