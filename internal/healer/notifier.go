package healer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// DefaultNotifyTimeout bounds one escalation request.
const DefaultNotifyTimeout = 5 * time.Second

type notification struct {
	Source  string `json:"source"`
	Event   string `json:"event"`
	AppID   string `json:"app_id"`
	Message string `json:"message"`
}

// HTTPNotifier posts escalations to {url}/api/notify. A circuit breaker
// stops hammering a sink that keeps failing; rejected calls return
// gobreaker.ErrOpenState.
type HTTPNotifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[any]
}

func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "escalation",
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &HTTPNotifier{
		url:     strings.TrimRight(baseURL, "/") + "/api/notify",
		timeout: timeout,
		client:  &http.Client{},
		cb:      cb,
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, appID, message string) error {
	_, err := n.cb.Execute(func() (any, error) {
		return nil, n.post(ctx, notification{Source: "workshop", Event: "escalation", AppID: appID, Message: message})
	})
	return err
}

func (n *HTTPNotifier) post(ctx context.Context, body notification) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify %s: status %d", n.url, resp.StatusCode)
	}
	return nil
}
