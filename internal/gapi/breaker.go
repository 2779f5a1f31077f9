// Package gapi holds the pieces shared by the Google API adapters.
package gapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnavailable  = errors.New("service unavailable")
)

// Breaker guards calls to one Google API.
// Client errors (4xx other than 429) do not count towards tripping.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewBreaker creates a breaker named after the API it guards
func NewBreaker(name string, logger *slog.Logger) *Breaker {
	logger = logger.With("breaker", name)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

// Do runs fn behind the breaker and maps the error
func (b *Breaker) Do(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	b.logger.Debug("google api call failed", "op", op, "state", b.State(), "error", err)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("failed to %s: %w: %v", op, ErrUnavailable, err)
	}
	return WrapError(err, op)
}

// State reports the breaker state
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func isClientError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
}

// WrapError maps Google API status codes onto the package sentinels
func WrapError(err error, op string) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("failed to %s: %w: %v", op, ErrUnauthorized, err)
		case http.StatusNotFound:
			return fmt.Errorf("failed to %s: %w: %v", op, ErrNotFound, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("failed to %s: %w: %v", op, ErrRateLimited, err)
		case http.StatusForbidden:
			if isRateLimitReason(apiErr) {
				return fmt.Errorf("failed to %s: %w: %v", op, ErrRateLimited, err)
			}
			return fmt.Errorf("failed to %s: %w: %v", op, ErrUnauthorized, err)
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return fmt.Errorf("failed to %s: %w: %v", op, ErrUnavailable, err)
		}
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}
