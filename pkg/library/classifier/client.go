package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/humblevault/humblevault/pkg/library/helpers/httpclient"
	"github.com/humblevault/humblevault/pkg/library/models"
)

const (
	defaultTimeout        = 8 * time.Second
	defaultRetryAttempts  = 2
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 4 * time.Second

	classifyMaxTokens = 8
	describeMaxTokens = 120
)

var (
	ErrNotConfigured = errors.New("classifier endpoint or model not configured")
	ErrUnrecognized  = errors.New("classifier answer outside the category set")

	errEmptyContent = errors.New("empty content")
)

// Classifier labels and describes library items through an external
// text-generation service.
type Classifier interface {
	Classify(ctx context.Context, in Input) (string, error)
	Describe(ctx context.Context, in Input) (string, error)
}

// Input is the text known about an item when it is classified.
type Input struct {
	Bundle      string
	Title       string
	FileName    string
	Ext         string
	Platform    string
	Description string
}

type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) { c.retryMaxAttempts = attempts }
}

func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) { c.sleeper = sleeper }
}

func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:              cfg,
		endpoint:         Endpoint(cfg.BaseURL),
		httpClient:       &http.Client{Timeout: cfg.Timeout, Transport: httpclient.HTTPClient.Transport},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint turns a configured base URL into the chat-completions URL.
// A base already ending in /chat/completions is used as is.
func Endpoint(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" || strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	if strings.Contains(base, "/api/v1") {
		return base + "/chat/completions"
	}
	return base + "/api/v1/chat/completions"
}

func (c *Client) configured() bool {
	return c.endpoint != "" && c.cfg.Model != ""
}

// Classify asks for a category and maps the answer onto models.Categories.
func (c *Client) Classify(ctx context.Context, in Input) (string, error) {
	if !c.configured() {
		return "", ErrNotConfigured
	}
	content, err := c.complete(ctx, chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: classifySystemPrompt()},
			{Role: "user", Content: classifyPrompt(in)},
		},
		MaxTokens:   classifyMaxTokens,
		Temperature: 0,
	}, "classify")
	if err != nil {
		return "", err
	}
	labels := ParseCategories(content)
	if len(labels) == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnrecognized, summarize(content))
	}
	return labels[0], nil
}

// Describe asks for a short neutral blurb.
func (c *Client) Describe(ctx context.Context, in Input) (string, error) {
	if !c.configured() {
		return "", ErrNotConfigured
	}
	content, err := c.complete(ctx, chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You write concise, neutral blurbs about Humble Bundle items."},
			{Role: "user", Content: describePrompt(in)},
		},
		MaxTokens:   describeMaxTokens,
		Temperature: 0.3,
	}, "describe")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Text    string      `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("classifier: http %d: %s", e.StatusCode, summarize(e.Body))
}

func (c *Client) complete(ctx context.Context, payload chatRequest, op string) (string, error) {
	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := c.send(ctx, payload)
		if err == nil {
			if content != "" {
				return content, nil
			}
			err = errEmptyContent
		}
		lastErr = err
		if !c.retryable(ctx, err) || attempt == attempts {
			break
		}
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("classifier %s: %w", op, lastErr)
}

func (c *Client) send(ctx context.Context, payload chatRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &statusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("api error: %s", strings.TrimSpace(decoded.Error.Message))
	}
	for _, choice := range decoded.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text, nil
		}
		if text := strings.TrimSpace(choice.Text); text != "" {
			return text, nil
		}
	}
	return "", nil
}

func (c *Client) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusRequestTimeout ||
			se.StatusCode == http.StatusTooManyRequests ||
			se.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, errEmptyContent)
}

// backoff doubles the base delay per attempt, capped at the max delay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retryBaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.retryMaxDelay > 0 && delay >= c.retryMaxDelay {
			return c.retryMaxDelay
		}
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func summarize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 160 {
		return string(r[:160]) + "..."
	}
	return s
}

var _ Classifier = (*Client)(nil)

// Noop is used when no endpoint is configured.
type Noop struct{}

func (Noop) Classify(context.Context, Input) (string, error) { return "", ErrNotConfigured }
func (Noop) Describe(context.Context, Input) (string, error) { return "", ErrNotConfigured }

// Fallback is the category used when classification is impossible.
const Fallback = models.CategoryOther
