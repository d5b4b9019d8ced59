package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/skypro1111/voice-activation-service/internal/session"
)

const (
	maxBackoff = 30 * time.Second
	userAgent  = "voice-activation-service/1.0"
)

// Client posts utterances to the configured endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
	logger     *slog.Logger

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains forwarding client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Backoff       time.Duration // first retry delay, doubled per attempt
}

// Response is the downstream reply. Every field is optional.
type Response struct {
	Accepted bool   `json:"accepted"`
	Text     string `json:"text,omitempty"`
	Intent   string `json:"intent,omitempty"`
}

// StatusError is returned for non-2xx replies
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	AvgResponseTime string  `json:"avg_response_time"`
	ActiveRequests  int     `json:"active_requests"`
}

// NewClient creates a forwarding client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
		logger:    logger,
	}, nil
}

// Forward uploads u, retrying transient failures with exponential backoff
func (c *Client) Forward(ctx context.Context, u *session.Utterance) (*Response, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.Backoff
			if backoff > maxBackoff {
				backoff = maxBackoff
			}

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				c.recordFailure()
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, u)
		if err == nil {
			c.recordSuccess(time.Since(startTime))
			c.logger.Info("Utterance forwarded",
				slog.String("utterance_id", u.ID),
				slog.String("session_id", u.SessionID),
				slog.Int("attempts", attempt+1),
				slog.Bool("accepted", resp.Accepted),
				slog.Duration("elapsed", time.Since(startTime)))
			return resp, nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
		c.logger.Debug("Forwarding attempt failed",
			slog.String("utterance_id", u.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	c.recordFailure()
	return nil, fmt.Errorf("forwarding failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single upload
func (c *Client) doRequest(ctx context.Context, u *session.Utterance) (*Response, error) {
	body, contentType, err := createMultipartRequest(u)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	out := &Response{Accepted: true}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return out, nil
}

// createMultipartRequest builds a form with the WAV file and its metadata
func createMultipartRequest(u *session.Utterance) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", u.ID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(u.WAV); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := []struct{ key, value string }{
		{"utterance_id", u.ID},
		{"session_id", u.SessionID},
		{"stream_id", strconv.FormatUint(uint64(u.StreamID), 10)},
		{"device_id", u.DeviceID},
		{"wake_transcript", u.WakeTranscript},
		{"confidence", strconv.FormatFloat(u.Confidence, 'f', 3, 64)},
		{"reason", u.Reason},
		{"sample_rate", strconv.Itoa(u.SampleRate)},
		{"duration", strconv.FormatFloat(u.Duration.Seconds(), 'f', 3, 64)},
		{"detected_at", u.DetectedAt.Format(time.RFC3339Nano)},
		{"finalized_at", u.FinalizedAt.Format(time.RFC3339Nano)},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.key, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryable reports whether another attempt may succeed. Server errors,
// rate limiting and transport failures are retried; other client errors
// and cancellation are not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var jsonErr *json.SyntaxError
	return !errors.As(err, &jsonErr)
}

func (c *Client) recordSuccess(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successRequests++
	if c.avgResponseTime == 0 {
		c.avgResponseTime = elapsed
	} else {
		c.avgResponseTime = (c.avgResponseTime + elapsed) / 2
	}
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime.String(),
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight uploads to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
