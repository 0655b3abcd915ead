// Package models holds the rate limit vocabulary shared by the stores and
// the HTTP middleware.
package models

import "time"

// EndpointClass groups endpoints that share one limit.
type EndpointClass string

const (
	// ClassWrite covers every authenticated mutation.
	ClassWrite EndpointClass = "write"
	// ClassFaucet covers test asset minting, which is open to any caller.
	ClassFaucet EndpointClass = "faucet"
)

// Limit is a request budget over a sliding window. A zero Requests value
// disables the class.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}
