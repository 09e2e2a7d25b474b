// Package idgen generates short, deterministic, content-derived identifiers.
// Unlike github.com/google/uuid's random operation IDs (used to correlate a
// result with its OpenTelemetry trace), a fingerprint here is a pure function
// of its inputs: running the same restore twice produces the same tag, which
// is what lets a log line or span attribute show "this is a repeat of that
// other run" without a database lookup.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified length.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// GenerateFingerprint derives a short base36 tag from prefix and seed,
// salted with timestamp and nonce so two calls with the same seed at
// different instants still differ (nonce handles same-instant collisions).
// length is the number of base36 characters after the prefix. Lengths 3-8
// pick how many hash bytes are encoded (2-5); any other length encodes 3
// bytes, still zero-padded or truncated to exactly length characters.
func GenerateFingerprint(prefix, seed string, timestamp time.Time, length, nonce int) string {
	content := fmt.Sprintf("%s|%d|%d", seed, timestamp.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))

	var numBytes int
	switch length {
	case 3:
		numBytes = 2
	case 4:
		numBytes = 3
	case 5, 6:
		numBytes = 4
	case 7, 8:
		numBytes = 5
	default:
		numBytes = 3
	}

	shortHash := EncodeBase36(hash[:numBytes], length)
	return fmt.Sprintf("%s-%s", prefix, shortHash)
}
