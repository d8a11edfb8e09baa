package room

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet excludes visually confusable characters (0/O, 1/I). Room
// codes double as access secrets, so they are drawn from crypto/rand, not
// math/rand.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	defaultCodeLength  = 6
	defaultMaxAttempts = 100
)

// CodeGenerator produces collision-free human-typeable room codes.
// Uniqueness is a check-then-act against the live room table, so Generate
// must be called while holding the same lock that guards room creation.
type CodeGenerator struct {
	length      int
	maxAttempts int
}

// NewCodeGenerator returns a generator with the given code length and
// attempt budget. Non-positive arguments fall back to the defaults.
func NewCodeGenerator(length, maxAttempts int) *CodeGenerator {
	if length <= 0 {
		length = defaultCodeLength
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &CodeGenerator{length: length, maxAttempts: maxAttempts}
}

// Generate draws candidate codes until one passes the taken predicate,
// giving up with ErrCodeSpaceExhausted after the attempt budget. The caller
// provides taken so the collision check and the subsequent room insertion
// happen under one critical section.
func (g *CodeGenerator) Generate(taken func(code string) bool) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		code, err := g.draw()
		if err != nil {
			return "", err
		}
		if !taken(code) {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func (g *CodeGenerator) draw() (string, error) {
	alphabetSize := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
