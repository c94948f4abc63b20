package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bina/bimsync/internal/logging"
)

// Stream consumes the event stream served by Handler, reconnecting with
// backoff until its context is cancelled.
type Stream struct {
	url          string
	httpClient   *http.Client
	reconnectMin time.Duration
	reconnectMax time.Duration
}

// NewStream creates a stream reading from url.
func NewStream(url string) *Stream {
	return &Stream{
		url: url,
		httpClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// Subscribe connects and returns a channel of events. The channel is closed
// when ctx is done.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event, 64)
	go s.subscribeLoop(ctx, out)
	return out
}

func (s *Stream) subscribeLoop(ctx context.Context, out chan<- Event) {
	defer close(out)

	reconnectDelay := s.reconnectMin
	for {
		err := s.connect(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			reconnectDelay = s.reconnectMin
		}

		logging.Warn("event stream disconnected",
			logging.String("url", s.url),
			logging.Err(err),
			logging.Duration("retry_in", reconnectDelay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		reconnectDelay *= 2
		if reconnectDelay > s.reconnectMax {
			reconnectDelay = s.reconnectMax
		}
	}
}

func (s *Stream) connect(ctx context.Context, out chan<- Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	logging.Debug("event stream connected", logging.String("url", s.url))

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				var e Event
				if err := json.Unmarshal([]byte(data), &e); err == nil {
					select {
					case out <- e:
					case <-ctx.Done():
						return nil
					}
				}
			}
			data = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}
