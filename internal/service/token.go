package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// TokenAlphabet omits 0/O and 1/I so codes survive being read aloud or retyped.
const TokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// TokenLookup reports whether a join token is already taken.
type TokenLookup interface {
	TokenExists(ctx context.Context, token string) (bool, error)
}

// ClaimFunc tries to persist token. It returns false without error when the
// store rejected the token as a duplicate, so the generator draws again.
type ClaimFunc func(ctx context.Context, token string) (bool, error)

// TokenGenerator draws random join tokens with a bounded number of attempts.
type TokenGenerator struct {
	length      int
	maxAttempts int
	lookup      TokenLookup
	random      io.Reader
}

// NewTokenGenerator creates a generator. Non-positive arguments fall back to
// a 6-character token and 10 attempts.
func NewTokenGenerator(length, maxAttempts int, lookup TokenLookup) *TokenGenerator {
	if length <= 0 {
		length = 6
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &TokenGenerator{
		length:      length,
		maxAttempts: maxAttempts,
		lookup:      lookup,
		random:      rand.Reader,
	}
}

// Generate draws candidates until claim accepts one. A candidate is skipped
// when it is already live or when claim reports a collision. After
// maxAttempts draws it fails with ErrTokenExhausted.
func (g *TokenGenerator) Generate(ctx context.Context, claim ClaimFunc) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		token, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("draw token: %w", err)
		}

		if g.lookup != nil {
			taken, err := g.lookup.TokenExists(ctx, token)
			if err != nil {
				return "", fmt.Errorf("check token: %w", err)
			}
			if taken {
				continue
			}
		}

		ok, err := claim(ctx, token)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
	}
	return "", ErrTokenExhausted
}

func (g *TokenGenerator) draw() (string, error) {
	size := big.NewInt(int64(len(TokenAlphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(g.random, size)
		if err != nil {
			return "", err
		}
		buf[i] = TokenAlphabet[n.Int64()]
	}
	return string(buf), nil
}
