// internal/ledger/code.go
package ledger

import (
	"context"
	"fmt"
	"math/rand"
)

// CodeLength is the length of every join code.
const CodeLength = 4

// codeAlphabet excludes glyphs that read ambiguously on a phone screen
// (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 100

// randomCode draws one candidate code from the alphabet.
func randomCode(rng *rand.Rand) string {
	buf := make([]byte, CodeLength)
	for i := range buf {
		buf[i] = codeAlphabet[rng.Intn(len(codeAlphabet))]
	}
	return string(buf)
}

// generateCode rejection-samples until it finds a code not held by any live
// (non-expired, non-disbanded) lobby.
func (s *Service) generateCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := randomCode(s.rng)
		inUse, err := s.store.CodeInUse(ctx, code, s.now())
		if err != nil {
			return "", fmt.Errorf("code lookup: %w", err)
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("exhausted %d attempts generating a join code", maxCodeAttempts)
}
