package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/sethvargo/go-retry"
)

var ErrFeedUnavailable = errors.New("change feed unavailable")

// WSSubscriber subscribes to the gateway's websocket feed endpoint. Events
// arrive as JSON text frames, one Event per frame, in commit order per topic.
//
// A dropped connection is retried with capped fibonacci backoff for as long
// as the subscription context lives; after each successful reconnect a reset
// event is delivered so the owning synchronizer re-reconciles whatever the
// outage swallowed.
type WSSubscriber struct {
	baseURL string
	token   string
	log     logging.Logger
}

func NewWSSubscriber(baseURL, token string, log logging.Logger) *WSSubscriber {
	return &WSSubscriber{
		baseURL: baseURL,
		token:   token,
		log:     log.With("module", "feed"),
	}
}

func (s *WSSubscriber) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	url := fmt.Sprintf("%s/v1/feed?topic=%s", s.baseURL, topic)

	// The first dial is synchronous so an unreachable remote is reported to
	// the caller instead of silently retried forever.
	conn, err := s.dial(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 64)

	go s.pump(subCtx, conn, url, topic, events)

	stop := func() { cancel() }
	return events, stop, nil
}

func (s *WSSubscriber) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{}
	if s.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + s.token}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	return conn, err
}

// pump reads frames until the connection breaks, then reconnects and starts
// over. It owns the events channel and closes it on the way out.
func (s *WSSubscriber) pump(ctx context.Context, conn *websocket.Conn, url, topic string, events chan<- Event) {
	defer close(events)

	for {
		readErr := s.readLoop(ctx, conn, topic, events)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return
		}
		s.log.Warn(ctx, "feed connection lost, reconnecting", "topic", topic, "error", readErr)

		backoff := retry.WithCappedDuration(30*time.Second, retry.NewFibonacci(500*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			c, err := s.dial(ctx, url)
			if err != nil {
				return retry.RetryableError(err)
			}
			conn = c
			return nil
		})
		if err != nil {
			// Only reachable when ctx was cancelled mid-backoff.
			return
		}

		s.log.Info(ctx, "feed reconnected", "topic", topic)

		select {
		case events <- Event{Action: ActionReset}:
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *WSSubscriber) readLoop(ctx context.Context, conn *websocket.Conn, topic string, events chan<- Event) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Error(ctx, "dropping malformed feed frame", "topic", topic, "error", err)
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
