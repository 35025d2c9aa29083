package app

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
)

var ten = big.NewInt(10)

// randomDigits returns n uniformly random decimal digits read from r.
func randomDigits(r io.Reader, n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(r, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// luhnCheckDigit returns the digit that makes payload+digit pass the Luhn check.
func luhnCheckDigit(payload string) byte {
	sum := 0
	double := true
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte('0' + (10-sum%10)%10)
}

func luhnValid(number string) bool {
	if len(number) < 2 {
		return false
	}
	return luhnCheckDigit(number[:len(number)-1]) == number[len(number)-1]
}
