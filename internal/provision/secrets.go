package provision

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// SecretFunc returns a random password of n characters.
type SecretFunc func(n int) (string, error)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomPassword draws n alphanumeric characters from crypto/rand.
func RandomPassword(n int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("provision: generate password: %w", err)
		}
		out[i] = passwordAlphabet[v.Int64()]
	}
	return string(out), nil
}
