package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 64 << 20

type ClientConfig struct {
	MaxConcurrency int
	RequestTimeout time.Duration
	UserAgent      string
	Headers        map[string]string
}

// ClientPool is a shared HTTP client with a concurrency cap and default
// headers. It does not retry; callers decide what to do on failure.
type ClientPool struct {
	config    ClientConfig
	semaphore chan struct{}
	client    *http.Client
	mu        sync.RWMutex
	stats     ClientStats
}

type ClientStats struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalLatency    time.Duration
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

func NewClientPool(config ClientConfig) *ClientPool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 15 * time.Second
	}
	return &ClientPool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// Do sends req with the default headers applied.
func (cp *ClientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	select {
	case cp.semaphore <- struct{}{}:
		defer func() { <-cp.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if cp.config.UserAgent != "" {
		req.Header.Set("User-Agent", cp.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	for k, v := range cp.config.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := cp.client.Do(req.WithContext(ctx))
	cp.record(time.Since(startTime), err == nil)

	log.Debug().
		Str("component", "httpclient").
		Str("url", req.URL.String()).
		Dur("latency", time.Since(startTime)).
		Bool("ok", err == nil).
		Msg("upstream request")

	return resp, err
}

// GetJSON fetches url and decodes the JSON body into out.
func (cp *ClientPool) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return cp.doJSON(ctx, req, out)
}

// PostJSON sends body as JSON to url and decodes the response into out.
func (cp *ClientPool) PostJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return cp.doJSON(ctx, req, out)
}

func (cp *ClientPool) doJSON(ctx context.Context, req *http.Request, out interface{}) error {
	resp, err := cp.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String(), Body: snippet}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{URL: req.URL.String(), Cause: err}
	}
	return nil
}

// DecodeError is returned when a 2xx body is not the expected JSON.
type DecodeError struct {
	URL   string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

func (cp *ClientPool) GetStats() ClientStats {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.stats
}

func (cp *ClientPool) record(d time.Duration, ok bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	cp.stats.TotalRequests++
	cp.stats.TotalLatency += d
	if ok {
		cp.stats.SuccessRequests++
	} else {
		cp.stats.FailedRequests++
	}
}
