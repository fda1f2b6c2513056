// Package connector provides the OCR backends (local Tesseract, custom
// HTTP providers, Gemini) and the fallback walk between them.
package connector

import (
	"context"

	"idcard-ocr/internal/ocr"
)

// Provider identifies the kind of backend behind a connector.
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderCustom Provider = "custom"
	ProviderGoogle Provider = "google"
)

// IsRemote reports whether the provider runs outside the process.
func (p Provider) IsRemote() bool {
	return p != ProviderLocal
}

// Connector runs OCR on one image.
type Connector interface {
	Name() string
	Provider() Provider
	Run(ctx context.Context, png []byte, cfg ocr.Config) (ocr.Attempt, error)
	Check(ctx context.Context) error
}

// State tracks one call through the fallback walk.
type State int

const (
	StateUnset State = iota
	StateLocalAttempted
	StateRemoteAttempted
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnset:
		return "UNSET"
	case StateLocalAttempted:
		return "LOCAL_ATTEMPTED"
	case StateRemoteAttempted:
		return "REMOTE_ATTEMPTED"
	case StateSuccess:
		return "SUCCESS"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// next returns the state after attempting a connector of provider p, or
// false when the transition is not allowed.
func (s State) next(p Provider) (State, bool) {
	switch s {
	case StateUnset:
		if p.IsRemote() {
			return StateRemoteAttempted, true
		}
		return StateLocalAttempted, true
	case StateLocalAttempted, StateRemoteAttempted:
		if p.IsRemote() {
			return StateRemoteAttempted, true
		}
	}
	return s, false
}
