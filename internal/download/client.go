// Package download performs HTTP downloads with retry logic and checksums.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"time"
)

// Options configures a single download.
type Options struct {
	URL        string
	DestPath   string
	RetryCount int // 0 defaults to 3
}

// Result describes a completed download.
type Result struct {
	Path     string // Path to the downloaded file
	Size     int64  // Final file size in bytes
	SHA256   string // SHA256 checksum in hex
	Attempts int    // Number of attempts made
	Duration time.Duration
}

// Client performs HTTP downloads with retries and checksum reporting.
// It keeps a cookie jar because some public-link hosts route large files
// through an interstitial that sets cookies.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	backoffFunc func(attempt int) time.Duration
}

// NewClient creates a new download client with the given logger.
func NewClient(logger *slog.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		httpClient: &http.Client{
			Jar: jar,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   4,
			},
			// No overall Timeout — body reads can take as long as needed.
			// Context cancellation still works for user-initiated cancel.
		},
		logger:      logger,
		userAgent:   "csvmirror/1.0",
		backoffFunc: backoffDelay,
	}
}

// Download fetches a URL to the destination path, retrying transient
// failures with exponential backoff. Each attempt starts fresh.
func (c *Client) Download(ctx context.Context, opts Options) (*Result, error) {
	if opts.RetryCount == 0 {
		opts.RetryCount = 3
	}

	startTime := time.Now()
	var lastErr error

	for attempt := 1; attempt <= opts.RetryCount; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
		default:
		}

		if dir := filepath.Dir(opts.DestPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}

		result, err := c.downloadAttempt(ctx, opts, attempt)
		if err == nil {
			result.Attempts = attempt
			result.Duration = time.Since(startTime)
			return result, nil
		}

		lastErr = err
		c.logger.Warn("download attempt failed", "url", opts.URL, "attempt", attempt, "error", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if shouldNotRetry(err) {
			_ = os.Remove(opts.DestPath)
			return nil, err
		}

		if attempt < opts.RetryCount {
			delay := c.backoffFunc(attempt)
			c.logger.Debug("retrying download", "url", opts.URL, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("download cancelled during retry: %w", ctx.Err())
			}
		}
	}

	_ = os.Remove(opts.DestPath)
	return nil, fmt.Errorf("download failed after %d attempts: %w", opts.RetryCount, lastErr)
}

// downloadAttempt performs a single download attempt.
func (c *Client) downloadAttempt(ctx context.Context, opts Options, attempt int) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	file, err := os.Create(opts.DestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	// Hash while writing so no second pass over the file is needed.
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(file, h), resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write to file: %w", err)
	}

	return &Result{
		Path:   opts.DestPath,
		Size:   size,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// FetchPage retrieves a small page body (folder listings, interstitial
// forms) without touching the file system. The body is capped at 8 MiB.
func (c *Client) FetchPage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// backoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func backoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry.
func shouldNotRetry(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// Don't retry on 4xx errors except 429 (Too Many Requests)
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}
	return false
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}
