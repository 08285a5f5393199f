// Package alerts delivers enriched alerts to the notification sinks under
// rate-limited, retried dispatch.
package alerts

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/polysentinel/engine/internal/store"
)

const sinkTimeout = 10 * time.Second

// Sink delivers a formatted alert to one notification channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, a *store.Alert) error
}

// SendError carries the HTTP status of a failed delivery so the dispatcher
// can classify it as permanent or transient.
type SendError struct {
	Status     int
	RetryAfter time.Duration
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sink returned status %d: %s", e.Status, e.Body)
}

// Permanent reports whether the failure should not be retried. Everything in
// the 4xx range except 429 is permanent; 5xx and transport errors are not.
func (e *SendError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// classifyResponse turns a non-success HTTP response into a SendError,
// honoring a Retry-After header on 429.
func classifyResponse(resp *http.Response, body string) *SendError {
	se := &SendError{Status: resp.StatusCode, Body: body}
	if resp.StatusCode == http.StatusTooManyRequests {
		se.RetryAfter = 5 * time.Second
		if header := resp.Header.Get("Retry-After"); header != "" {
			if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
				se.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return se
}
