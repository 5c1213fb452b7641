package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies which family of STT backend produced a handle.
type Kind string

const (
	KindCloud      Kind = "cloud"       // long-running recognizer, polled by job name
	KindThirdParty Kind = "third_party" // diarization API, inline result or token
	KindMultimodal Kind = "multimodal"  // generative model with file upload
)

// Provider is the interface every speech-to-text backend implements.
// Submit starts recognition and returns a handle; Poll performs one
// non-blocking status check. Polling a handle that carries an inline result
// parses it without network I/O.
type Provider interface {
	Kind() Kind
	Submit(ctx context.Context, audio Audio) (Handle, error)
	Poll(ctx context.Context, h Handle) (*PollResult, error)
}

// Audio is the merged recording handed to a provider. Path is a local file;
// URI is an object URI for backends that read from a bucket.
type Audio struct {
	Path     string
	URI      string
	MimeType string
}

// PollResult is the outcome of one poll. Result is set only when Done.
type PollResult struct {
	Done     bool           `json:"done"`
	Result   *Result        `json:"result,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is a provider result reduced to text plus speaker units.
type Result struct {
	Text string
	// Units are words when Segmented is false and already-formed segments
	// when it is true.
	Units     []Unit
	Segmented bool
	// Raw is the provider-native payload, kept for status responses.
	Raw json.RawMessage
}

// Unit is one word or segment attributed to a speaker label as the provider
// reported it. Empty Speaker means the provider gave no diarization.
type Unit struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"` // seconds
	End     float64 `json:"end"`   // seconds
}

var (
	// ErrJobFailed is a terminal FAILED status. It is not retried.
	ErrJobFailed = errors.New("transcription job failed")
	// ErrHandleMismatch is returned when a handle is polled on the wrong backend.
	ErrHandleMismatch = errors.New("handle does not belong to this provider")
)

// APIError is a non-2xx answer from a provider endpoint.
type APIError struct {
	Provider string
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%s, status %d): %s", e.Provider, e.Endpoint, e.Status, e.Body)
}

func jobFailed(provider, reason string) error {
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Errorf("%s: %w: %s", provider, ErrJobFailed, reason)
}
