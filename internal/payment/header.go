package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// HeaderName is the request header carrying the base64-encoded payment envelope.
const HeaderName = "X-Payment"

// Supported envelope parameters. Anything else is rejected before the
// signature is even looked at.
const (
	SupportedVersion = 1
	SupportedScheme  = "exact"
)

// DecodeHeader parses the base64 X-Payment header into its envelope. The
// authorization's Signature field is filled from the payload signature so
// callers can hand the result straight to the verifier.
func DecodeHeader(raw string) (*Envelope, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(decoded, &env); err != nil {
		return nil, fmt.Errorf("parse payment header: %w", err)
	}
	if env.X402Version != SupportedVersion {
		return nil, fmt.Errorf("unsupported x402 version %d", env.X402Version)
	}
	if env.Scheme != SupportedScheme {
		return nil, fmt.Errorf("unsupported payment scheme %q", env.Scheme)
	}
	if len(env.Payload.Authorization.Signature) == 0 {
		env.Payload.Authorization.Signature = env.Payload.Signature
	}
	return &env, nil
}

// EncodeHeader is the inverse of DecodeHeader, used by tests and client tooling.
func EncodeHeader(env *Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal payment header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
