package transcribe

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Handle references a submitted transcription. Exactly one of OperationName,
// Token and Inline is set: a pollable job name, a callback/poll token, or a
// result that was returned synchronously.
type Handle struct {
	Kind          Kind            `json:"kind"`
	OperationName string          `json:"operationName,omitempty"`
	Token         string          `json:"token,omitempty"`
	Inline        json.RawMessage `json:"result,omitempty"`
}

var errEmptyHandle = errors.New("handle has no operation name, token or inline result")

// Validate checks that exactly one variant is populated.
func (h Handle) Validate() error {
	n := 0
	if h.OperationName != "" {
		n++
	}
	if h.Token != "" {
		n++
	}
	if len(h.Inline) > 0 && string(h.Inline) != "null" {
		n++
	}
	switch {
	case n == 0:
		return errEmptyHandle
	case n > 1:
		return fmt.Errorf("handle has %d variants set, want exactly one", n)
	}
	switch h.Kind {
	case KindCloud, KindThirdParty, KindMultimodal:
		return nil
	default:
		return fmt.Errorf("unknown handle kind %q", h.Kind)
	}
}

// IsInline reports whether the handle already carries its result.
func (h Handle) IsInline() bool {
	return len(h.Inline) > 0 && string(h.Inline) != "null"
}

// ID returns the pollable identifier, or "" for inline handles.
func (h Handle) ID() string {
	if h.OperationName != "" {
		return h.OperationName
	}
	return h.Token
}
