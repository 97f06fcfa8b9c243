// Package model defines types shared by the relay, the push channel and the
// layer catalog.
package model

import (
	"context"
	"io"
	"net/http"
	"time"
)

// RelayRequest is a validated request to be forwarded upstream.
type RelayRequest struct {
	Ctx       context.Context
	TargetURL string
	Method    string
	Header    http.Header
}

// RelayResponse is the upstream response to be streamed back. Body is never
// buffered; the caller must close it.
type RelayResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Duration   time.Duration
}

// DurationMs returns the upstream call duration in milliseconds.
func (r *RelayResponse) DurationMs() int64 {
	return r.Duration.Milliseconds()
}
