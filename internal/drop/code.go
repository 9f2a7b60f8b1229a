package drop

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
)

const (
	// CodeAlphabet is the symbol set of share codes.
	CodeAlphabet = "0123456789abcdef"
	// DefaultCodeLength is the number of symbols in a share code.
	DefaultCodeLength = 6

	groupIDLength = 6
)

// CodeGenerator draws share codes uniformly from CodeAlphabet using a
// cryptographic source.
type CodeGenerator struct {
	length int
	rand   io.Reader
}

// NewCodeGenerator returns a generator for codes of the given length.
// Non-positive lengths fall back to DefaultCodeLength.
func NewCodeGenerator(length int) *CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return &CodeGenerator{length: length, rand: rand.Reader}
}

// Generate returns a fresh candidate code. Uniqueness is checked by the caller.
func (g *CodeGenerator) Generate() (string, error) {
	symbols := big.NewInt(int64(len(CodeAlphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(g.rand, symbols)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = CodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// NewGroupID returns a 6 character url-safe identifier.
func NewGroupID() (string, error) {
	raw := make([]byte, 6)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:groupIDLength], nil
}

// ValidCode reports whether s has the shape of a share code.
func ValidCode(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
