package i3s

import (
	"errors"
	"fmt"
)

// ErrMissingBoundingVolume reports node metadata with neither an oriented
// box nor a bounding sphere. It is fatal for that node's tile-definition
// synthesis only: the node is logged and dropped from its parent's engine
// children, and the rest of the subtree's siblings load normally.
var ErrMissingBoundingVolume = errors.New("i3s: node metadata declares no bounding volume")

// ErrUnsupportedLODMetric reports a node-paging LOD metric type this
// implementation does not understand. It is logged and the node falls back
// to the default geometric-error constant; the node itself still loads.
var ErrUnsupportedLODMetric = errors.New("i3s: unsupported LOD selection metric type")

// ErrDestroyed reports use of a provider after Destroy.
var ErrDestroyed = errors.New("i3s: provider is destroyed")

// TransportError is a failed fetch: a non-2xx response or an unreachable
// address. It is never retried internally; it propagates up whichever load
// chain depended on the fetch.
type TransportError struct {
	// StatusCode is the HTTP status. Unreachable or invalid addresses
	// report 404.
	StatusCode int
	URL        string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("i3s: fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("i3s: fetch %s: status %d", e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError is the logical error envelope some services embed in an
// HTTP-200 body: {"error": {"code": ..., "message": ..., "details": ...}}.
// The embedded object itself propagates, not a generic wrapper, so callers
// can inspect the service's own code and message.
type ServiceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("i3s: service error %d: %s", e.Code, e.Message)
}
