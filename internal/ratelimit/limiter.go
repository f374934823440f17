package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConfigured = errors.New("rate_limiter_not_configured")
	ErrEmptyKey      = errors.New("rate_limiter_key_empty")
	ErrInvalidPolicy = errors.New("rate_limiter_invalid_policy")
)

// Policy allows Limit requests per Window for each key. Tokens refill
// continuously, so a full window is never needed to regain one request.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (p Policy) Rate() float64 {
	if p.Window <= 0 {
		return 0
	}
	return float64(p.Limit) / p.Window.Seconds()
}

func (p Policy) Validate() error {
	if p.Limit <= 0 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	Policy() Policy
}
