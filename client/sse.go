package client

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/sse"

	ivxp "github.com/ivxp/ivxp-go"
	"github.com/ivxp/ivxp-go/wire"
)

// SSEHandlers receives the typed events of a provider status stream.
// Nil handlers are skipped.
type SSEHandlers struct {
	OnStatusUpdate func(data string)
	OnProgress     func(data string)
	OnCompleted    func(data string)
	OnFailed       func(data string)
	// OnExhausted fires once, after the final reconnect attempt fails.
	OnExhausted func(err error)
}

// SSEOptions tunes the reconnect behavior.
type SSEOptions struct {
	MaxRetries int
	Backoff    PollOptions
	HTTPClient *http.Client
}

// DefaultSSEMaxRetries bounds reconnect attempts before giving up.
const DefaultSSEMaxRetries = 5

// ConnectSSE subscribes to a provider event stream. Transport failures
// trigger reconnects under the polling backoff schedule, up to MaxRetries;
// when the budget is spent, OnExhausted fires with an SSE_EXHAUSTED error.
// The returned unsubscribe function is idempotent and detaches any pending
// reconnect attempts.
func ConnectSSE(ctx context.Context, url string, handlers SSEHandlers, opts SSEOptions) func() {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultSSEMaxRetries
	}
	opts.Backoff = opts.Backoff.withDefaults()
	if opts.HTTPClient == nil {
		// No overall timeout: the stream stays open until cancelled.
		opts.HTTPClient = &http.Client{}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	unsubscribe := func() {
		once.Do(cancel)
	}

	go runStream(streamCtx, url, handlers, opts)
	return unsubscribe
}

func runStream(ctx context.Context, url string, handlers SSEHandlers, opts SSEOptions) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			timer := time.NewTimer(backoffDelay(attempt-1, opts.Backoff))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		terminal, err := consumeStream(ctx, url, handlers, opts.HTTPClient)
		if terminal {
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
	}

	if handlers.OnExhausted != nil {
		handlers.OnExhausted(&ivxp.ProtocolError{
			Code:        ivxp.ErrCodeSSEExhausted,
			Message:     "event stream retry budget exhausted",
			Recoverable: true,
			Cause:       lastErr,
		})
	}
}

// consumeStream reads one connection until a terminal event, stream end, or
// transport failure. It reports terminal=true when no reconnect should occur.
func consumeStream(ctx context.Context, url string, handlers SSEHandlers, hc *http.Client) (terminal bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := hc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, ivxp.NewRecoverableError(ivxp.ErrCodeRequestFailed, "event stream request rejected")
	}

	scanner := bufio.NewScanner(resp.Body)
	var event sse.Event
	var data []string

	dispatch := func() bool {
		if len(data) == 0 {
			return false
		}
		event.Data = strings.Join(data, "\n")
		done := dispatchEvent(event, handlers)
		event = sse.Event{}
		data = nil
		return done
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if dispatch() {
				return true, nil
			}
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "id:"):
			event.Id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		}
	}
	if dispatch() {
		return true, nil
	}
	return false, scanner.Err()
}

// dispatchEvent routes one event; completed/failed end the stream.
func dispatchEvent(event sse.Event, handlers SSEHandlers) (terminal bool) {
	data, _ := event.Data.(string)
	switch event.Event {
	case wire.SSEEventStatusUpdate:
		if handlers.OnStatusUpdate != nil {
			handlers.OnStatusUpdate(data)
		}
	case wire.SSEEventProgress:
		if handlers.OnProgress != nil {
			handlers.OnProgress(data)
		}
	case wire.SSEEventCompleted:
		if handlers.OnCompleted != nil {
			handlers.OnCompleted(data)
		}
		return true
	case wire.SSEEventFailed:
		if handlers.OnFailed != nil {
			handlers.OnFailed(data)
		}
		return true
	}
	return false
}
