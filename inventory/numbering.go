package inventory

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// DefaultRequestPrefix starts every transfer request number.
const DefaultRequestPrefix = "TR"

// DefaultNumberAttempts bounds the collision retry loop.
const DefaultNumberAttempts = 10

// RequestNumberGenerator produces human-readable, globally unique request
// numbers of the form PREFIX-YYYYMMDD-NNNNNN.
//
// Uniqueness is check-then-create: each candidate is looked up through
// Exists before it is returned. Stores also declare the column unique, so a
// candidate that races past the check fails the save instead of duplicating.
type RequestNumberGenerator struct {
	Prefix      string
	Clock       Clock
	MaxAttempts int

	// Token returns the numeric suffix. Defaults to a crypto/rand draw in
	// [0, 1e6). Tests replace it to force collisions.
	Token func() (int64, error)
}

func NewRequestNumberGenerator(prefix string, clock Clock) *RequestNumberGenerator {
	if prefix == "" {
		prefix = DefaultRequestPrefix
	}
	return &RequestNumberGenerator{Prefix: prefix, Clock: orSystem(clock), MaxAttempts: DefaultNumberAttempts}
}

// Next returns a number for which exists reported false.
func (g *RequestNumberGenerator) Next(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultNumberAttempts
	}
	token := g.Token
	if token == nil {
		token = randomToken
	}
	day := orSystem(g.Clock).Now().Format("20060102")

	for i := 0; i < attempts; i++ {
		n, err := token()
		if err != nil {
			return "", fmt.Errorf("generating request number: %w", err)
		}
		candidate := FormatRequestNumber(g.Prefix, day, n)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", &InvariantError{Message: fmt.Sprintf("no free request number after %d attempts", attempts)}
}

func FormatRequestNumber(prefix, day string, token int64) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, day, token%1_000_000)
}

func randomToken() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}
