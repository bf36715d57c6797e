// Package llm is the model transport used by minions.
//
// A Router picks a Driver by provider kind, paces calls per credential and
// records per-provider latency. Drivers perform exactly one network call per
// Generate; the router does not retry.
package llm

import (
	"context"
	"errors"
)

// ErrNoAPIKey is returned by drivers that need a credential and got none.
var ErrNoAPIKey = errors.New("api key is required")

// Request is one prompt-in, text-out model call.
type Request struct {
	Provider    string  // driver kind; empty means "google"
	Model       string  // provider model id
	Prompt      string  // fully rendered prompt
	APIKey      string  // credential chosen by the key selector
	Temperature float64 // sampling temperature
	JSON        bool    // ask the provider for a JSON object response
}

// Generator produces text for a prompt or fails.
type Generator interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// Driver is a provider-specific Generator registered with the Router.
type Driver interface {
	Kind() string
	Generate(ctx context.Context, req *Request) (string, error)
}
