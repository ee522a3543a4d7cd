package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultWebhookTimeout    = 10 * time.Second
	defaultMessageSpacing    = time.Second
	defaultRetryAfter        = 5 * time.Second
	defaultMaxRetryAfter     = 5 * time.Minute
	maxResponseBodyBytes     = 64 << 10
	contentTypeJSON          = "application/json"
	allowedMentionsUserParse = "users"
)

var errMissingWebhookURL = errors.New("notify: webhook url is required")

type webhookPayload struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

type rateLimitedResponse struct {
	RetryAfter *float64 `json:"retry_after"`
}

// DispatcherConfig describes the dependencies of a Dispatcher.
type DispatcherConfig struct {
	WebhookURL string
	HTTPClient *http.Client
	// Timeout bounds each POST; defaults to 10s.
	Timeout time.Duration
	// Limiter spaces consecutive messages; defaults to one message per second.
	Limiter *rate.Limiter
	// DefaultRetryAfter applies when a 429 carries no usable retry_after; defaults to 5s.
	DefaultRetryAfter time.Duration
	// MaxRetryAfter caps any provider supplied delay; defaults to 5m.
	MaxRetryAfter time.Duration
	// Sleep waits out a 429 delay; defaults to a context-aware timer.
	Sleep  func(ctx context.Context, delay time.Duration) error
	Logger *zap.Logger
}

// Dispatcher posts messages to a chat webhook sequentially.
type Dispatcher struct {
	webhookURL        string
	client            *http.Client
	timeout           time.Duration
	limiter           *rate.Limiter
	defaultRetryAfter time.Duration
	maxRetryAfter     time.Duration
	sleep             func(ctx context.Context, delay time.Duration) error
	logger            *zap.Logger
}

// NewDispatcher validates cfg and fills defaults.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errMissingWebhookURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(defaultMessageSpacing), 1)
	}
	retryAfter := cfg.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	maxRetryAfter := cfg.MaxRetryAfter
	if maxRetryAfter <= 0 {
		maxRetryAfter = defaultMaxRetryAfter
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		webhookURL:        cfg.WebhookURL,
		client:            client,
		timeout:           timeout,
		limiter:           limiter,
		defaultRetryAfter: retryAfter,
		maxRetryAfter:     maxRetryAfter,
		sleep:             sleep,
		logger:            logger,
	}, nil
}

// Deliver posts each message in order. Every POST, retries included, waits on the
// limiter, so consecutive requests stay spaced whatever the previous outcome was.
// Failures are logged per message and never stop the remaining deliveries; only
// context cancellation ends the batch early.
func (d *Dispatcher) Deliver(ctx context.Context, messages []Message) {
	for index, message := range messages {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("notification delivery interrupted",
				zap.Int("remaining", len(messages)-index),
				zap.Error(err))
			return
		}
		d.deliverOne(ctx, message)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, message Message) {
	fields := []zap.Field{
		zap.Int64("leaderboard_id", message.LeaderboardID),
		zap.String("leaderboard", message.LeaderboardName),
	}
	body, err := sonnet.Marshal(webhookPayload{
		Content:         message.Content,
		AllowedMentions: allowedMentions{Parse: []string{allowedMentionsUserParse}},
	})
	if err != nil {
		d.logger.Error("failed to encode webhook payload", append(fields, zap.Error(err))...)
		return
	}

	status, responseBody, header, err := d.post(ctx, body)
	if err != nil {
		d.logger.Error("webhook request failed", append(fields, zap.Error(err))...)
		return
	}
	if status == http.StatusTooManyRequests {
		delay := d.retryDelay(responseBody, header)
		d.logger.Warn("webhook rate limited", append(fields, zap.Duration("retry_after", delay))...)
		if err := d.sleep(ctx, delay); err != nil {
			d.logger.Warn("webhook retry abandoned", append(fields, zap.Error(err))...)
			return
		}
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("webhook retry abandoned", append(fields, zap.Error(err))...)
			return
		}
		status, responseBody, _, err = d.post(ctx, body)
		if err != nil {
			d.logger.Error("webhook retry failed", append(fields, zap.Error(err))...)
			return
		}
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		d.logger.Error("webhook rejected message",
			append(fields, zap.Int("status", status), zap.String("body", string(responseBody)))...)
		return
	}
	d.logger.Info("notification sent", fields...)
}

func (d *Dispatcher) post(ctx context.Context, body []byte) (int, []byte, http.Header, error) {
	requestContext, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestContext, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", contentTypeJSON)

	response, err := d.client.Do(request)
	if err != nil {
		return 0, nil, nil, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if err != nil {
		return response.StatusCode, nil, response.Header, nil
	}
	return response.StatusCode, responseBody, response.Header, nil
}

// retryDelay prefers the JSON retry_after field, then the Retry-After header, and
// never exceeds maxRetryAfter.
func (d *Dispatcher) retryDelay(body []byte, header http.Header) time.Duration {
	delay, ok := parseRetryAfter(body)
	if !ok && header != nil {
		if seconds, err := strconv.ParseFloat(strings.TrimSpace(header.Get("Retry-After")), 64); err == nil {
			delay, ok = secondsToDuration(seconds)
		}
	}
	if !ok {
		delay = d.defaultRetryAfter
	}
	return min(delay, d.maxRetryAfter)
}

func parseRetryAfter(body []byte) (time.Duration, bool) {
	if len(body) == 0 {
		return 0, false
	}
	var decoded rateLimitedResponse
	if err := sonnet.Unmarshal(body, &decoded); err != nil {
		return 0, false
	}
	if decoded.RetryAfter == nil {
		return 0, false
	}
	return secondsToDuration(*decoded.RetryAfter)
}

// secondsToDuration reports false for values outside the time.Duration range.
func secondsToDuration(seconds float64) (time.Duration, bool) {
	if math.IsNaN(seconds) || seconds < 0 || seconds > float64(math.MaxInt64)/float64(time.Second) {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
