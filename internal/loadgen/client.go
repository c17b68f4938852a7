package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/podium/internal/domain/model"
	"github.com/okian/podium/pkg/logger"
)

// Submission outcomes.
const (
	outcomeSuccess     = "success"
	outcomeDuplicate   = "duplicate"
	outcomeRateLimited = "rate_limited"
	outcomeFailed      = "failed"
)

// HTTPClient talks to the podium HTTP API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPClient creates a client with the given per-request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, []byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp, data, nil
}

// Health checks /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	resp, _, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// CreateLeaderboard registers a leaderboard.
func (c *HTTPClient) CreateLeaderboard(ctx context.Context, id, name string) (model.Leaderboard, error) {
	var lb model.Leaderboard
	resp, body, err := c.do(ctx, http.MethodPost, "/leaderboards", map[string]string{"id": id, "name": name}, nil)
	if err != nil {
		return lb, err
	}
	if resp.StatusCode != http.StatusCreated {
		return lb, fmt.Errorf("create leaderboard: status %d: %s", resp.StatusCode, body)
	}
	return lb, json.Unmarshal(body, &lb)
}

// Submit posts a score and classifies the outcome.
func (c *HTTPClient) Submit(ctx context.Context, leaderboardID string, sub Submission) string { //nolint:gocritic // hugeParam: submissions travel by value
	var headers map[string]string
	if sub.IdempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": sub.IdempotencyKey}
	}
	resp, body, err := c.do(ctx, http.MethodPost, "/leaderboards/"+url.PathEscape(leaderboardID)+"/scores", sub, headers)
	if err != nil {
		return outcomeFailed
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var ack SubmitResponse
		if err := json.Unmarshal(body, &ack); err == nil && ack.Duplicate {
			return outcomeDuplicate
		}
		return outcomeSuccess
	case http.StatusConflict:
		// the original request with this key is still being applied
		return outcomeDuplicate
	case http.StatusTooManyRequests:
		return outcomeRateLimited
	default:
		return outcomeFailed
	}
}

// Top fetches a page of the ranking.
func (c *HTTPClient) Top(ctx context.Context, leaderboardID string, limit, offset int) ([]model.RankingEntry, error) {
	path := fmt.Sprintf("/leaderboards/%s/top?limit=%d&offset=%d", url.PathEscape(leaderboardID), limit, offset)
	resp, body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("top: status %d: %s", resp.StatusCode, body)
	}
	var top TopResponse
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("top: %w", err)
	}
	return top.Entries, nil
}

// ErrPlayerNotFound is returned by Rank for unknown players.
var ErrPlayerNotFound = errors.New("player not found")

// Rank fetches one player's ranking entry.
func (c *HTTPClient) Rank(ctx context.Context, leaderboardID, playerID string) (model.RankingEntry, error) {
	var entry model.RankingEntry
	path := "/leaderboards/" + url.PathEscape(leaderboardID) + "/players/" + url.PathEscape(playerID) + "/rank"
	resp, body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return entry, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return entry, json.Unmarshal(body, &entry)
	case http.StatusNotFound:
		return entry, ErrPlayerNotFound
	default:
		return entry, fmt.Errorf("rank: status %d: %s", resp.StatusCode, body)
	}
}

// submitAll sends submissions concurrently using a worker pool and adds the
// outcomes to stats.
func submitAll(ctx context.Context, client *HTTPClient, cfg *Config, leaderboardID string, subs []Submission, stats *Stats) {
	if len(subs) == 0 {
		return
	}
	log := logger.Get().Named("loadgen")

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	subChan := make(chan Submission, workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup
	var done atomic.Int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range subChan {
				outcome := client.Submit(ctx, leaderboardID, sub)
				atomic.AddInt64(&stats.Submitted, 1)
				switch outcome {
				case outcomeSuccess:
					atomic.AddInt64(&stats.Successful, 1)
				case outcomeDuplicate:
					atomic.AddInt64(&stats.Duplicate, 1)
				case outcomeRateLimited:
					atomic.AddInt64(&stats.RateLimited, 1)
				default:
					atomic.AddInt64(&stats.Failed, 1)
				}
				if n := done.Add(1); cfg.Verbose && n%ProgressEvery == 0 {
					log.Debug(ctx, "submission progress",
						logger.Int64("done", n),
						logger.Int("total", len(subs)))
				}
			}
		}()
	}

	go func() {
		defer close(subChan)
		for _, sub := range subs {
			select {
			case <-ctx.Done():
				return
			case subChan <- sub:
			}
		}
	}()

	wg.Wait()
}
