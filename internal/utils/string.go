package utils

import (
	"math/rand/v2"
	"strings"
	"time"
)

var letters = []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

func GenerateRandomStringWithLength(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

// GenerateClaimNumber builds a human readable claim reference like
// CLM-20261015-7QK2MD.
func GenerateClaimNumber(now time.Time) string {
	return "CLM-" + now.UTC().Format("20060102") + "-" + GenerateRandomStringWithLength(6)
}

func GeneratePolicyNumber(now time.Time) string {
	return "POL-" + now.UTC().Format("20060102") + "-" + GenerateRandomStringWithLength(6)
}

// NormalizeCode upper-cases and trims identifiers such as flight numbers and
// baggage tags before they are sent to a provider.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
