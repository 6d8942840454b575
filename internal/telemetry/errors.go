package telemetry

import "errors"

// ErrMalformedPayload marks a payload that failed to parse. It is terminal
// per-message: logged and dropped, never surfaced to a caller.
var ErrMalformedPayload = errors.New("telemetry: malformed payload")
