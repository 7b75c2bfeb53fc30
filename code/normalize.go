package code

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Custom code length bounds, applied after normalization.
const (
	MinCustomLength = 3
	MaxCustomLength = 32
)

// DefaultLength is the length of generated codes.
const DefaultLength = 8

// Alphabet excludes characters that are easy to misread (0/o, 1/l/i).
const Alphabet = "abcdefghjkmnpqrstuvwxyz23456789"

var (
	errEmpty       = errors.New("code is empty")
	errLength      = fmt.Errorf("code must be %d-%d characters", MinCustomLength, MaxCustomLength)
	errInvalidChar = errors.New("code may only contain letters, digits, '-' and '_'")
)

// Normalize returns the canonical stored form of a code: trimmed and lowercase.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate checks a normalized custom code.
func Validate(normalized string) error {
	if normalized == "" {
		return errEmpty
	}
	if len(normalized) < MinCustomLength || len(normalized) > MaxCustomLength {
		return errLength
	}
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return errInvalidChar
		}
	}
	return nil
}

// Generator produces candidate codes. Candidates need not be unique; the
// store's unique index decides.
type Generator interface {
	Generate() (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func() (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate() (string, error) { return f() }

// RandomGenerator draws codes of a fixed length from Alphabet using crypto/rand.
type RandomGenerator struct {
	Length int
}

// NewRandomGenerator returns a generator for codes of the given length,
// falling back to DefaultLength for non-positive values.
func NewRandomGenerator(length int) *RandomGenerator {
	if length <= 0 {
		length = DefaultLength
	}
	return &RandomGenerator{Length: length}
}

// Generate implements Generator.
func (g *RandomGenerator) Generate() (string, error) {
	n := g.Length
	if n <= 0 {
		n = DefaultLength
	}
	limit := big.NewInt(int64(len(Alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("code: random source: %w", err)
		}
		b.WriteByte(Alphabet[idx.Int64()])
	}
	return b.String(), nil
}
