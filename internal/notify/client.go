package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/Cheese-EngineHost/internal/match"
)

var _ match.ResultNotifier = (*Client)(nil)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Client posts finished games to a result webhook.
type Client struct {
	url     string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithBearerToken sends an Authorization header with every request.
func WithBearerToken(token string) Option {
	token = strings.TrimSpace(token)
	return func(c *Client) {
		if token == "" {
			return
		}
		c.headers = func() map[string]string {
			return map[string]string{"Authorization": "Bearer " + token}
		}
	}
}

// WithDial replaces the connection dialer.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:            strings.TrimSpace(url),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResultPayload is the JSON body sent for one finished game.
type ResultPayload struct {
	GameID      string `json:"game_id"`
	Round       int    `json:"round,omitempty"`
	White       string `json:"white"`
	Black       string `json:"black"`
	Result      string `json:"result"`
	Reason      string `json:"reason"`
	Termination string `json:"termination,omitempty"`
	TimeControl string `json:"time_control"`
	Plies       int    `json:"plies"`
	DurationMS  int64  `json:"duration_ms"`
	Summary     string `json:"summary"`
	PGN         string `json:"pgn"`
}

func payloadFor(rec *match.Record) ResultPayload {
	return ResultPayload{
		GameID:      rec.ID,
		Round:       rec.Round,
		White:       rec.White,
		Black:       rec.Black,
		Result:      rec.Result,
		Reason:      rec.Reason,
		Termination: rec.Termination,
		TimeControl: rec.TimeControl,
		Plies:       len(rec.MovesUCI),
		DurationMS:  rec.Duration().Milliseconds(),
		Summary:     Summary(rec),
		PGN:         rec.PGN,
	}
}

// Summary is a one line description such as "Alpha - Beta 1-0 (timeout, 57 plies)".
func Summary(rec *match.Record) string {
	if rec == nil {
		return ""
	}
	return fmt.Sprintf("%s - %s %s (%s, %d plies)", rec.White, rec.Black, rec.Result, rec.Reason, len(rec.MovesUCI))
}

// PostResult sends rec to the webhook, retrying transport failures, 429 and 5xx answers.
func (c *Client) PostResult(ctx context.Context, rec *match.Record) error {
	if c == nil || c.url == "" || rec == nil {
		return nil
	}
	body, err := json.Marshal(payloadFor(rec))
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", rec.ID, err)
	}

	attempts := max(c.retryMax, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		retryable, err := c.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			break
		}
	}
	return lastErr
}

// post makes one attempt and reports whether a failure is worth retrying.
func (c *Client) post(ctx context.Context, body []byte) (bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.url)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(body)

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return true, fmt.Errorf("post result: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return shouldRetryStatus(status), fmt.Errorf("webhook error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
	}
	return true, nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
