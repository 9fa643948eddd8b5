package utils

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"math/big"
	"time"
)

var orderNumberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateOrderNumber returns a human-readable order number such as
// ORD-20250301-K3QZ7M. Uniqueness is enforced by the caller.
func GenerateOrderNumber(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}
	suffix := orderNumberEncoding.EncodeToString(b)[:6]
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix), nil
}

// GenerateNumericCode returns a zero-padded decimal code of the given length.
func GenerateNumericCode(digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
