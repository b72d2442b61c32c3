package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/hnpwa-feed/models"
)

const (
	DefaultBaseURL = "https://hacker-news.firebaseio.com/v0"
	defaultTimeout = 30 * time.Second
)

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hnfeed_upstream_requests_total",
		Help: "Requests made to the Hacker News API, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hnfeed_upstream_request_duration_seconds",
		Help:    "Latency of requests made to the Hacker News API.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// HackerNewsAPI is a read-only client for the Hacker News Firebase API
type HackerNewsAPI struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	log         *logrus.Logger
}

// NewHackerNewsAPI creates a new Hacker News API client.
// A maxRequestsPerSecond of zero or less disables outbound rate limiting.
func NewHackerNewsAPI(baseURL string, timeout time.Duration, maxRequestsPerSecond int, log *logrus.Logger) *HackerNewsAPI {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	burst := 0
	if maxRequestsPerSecond > 0 {
		limit = rate.Limit(maxRequestsPerSecond)
		burst = maxRequestsPerSecond
	}

	return &HackerNewsAPI{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(limit, burst),
		log:         log,
	}
}

// FetchItem fetches a single item by id.
// Returns nil without an error when the item does not exist.
func (h *HackerNewsAPI) FetchItem(ctx context.Context, id int) (*models.RawItem, error) {
	var item models.RawItem
	found, err := h.get(ctx, "item", fmt.Sprintf("%s/item/%d.json", h.baseURL, id), &item)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &item, nil
}

// FetchIDList fetches the ordered id list behind a named list such as "topstories".
// A missing list yields an empty slice.
func (h *HackerNewsAPI) FetchIDList(ctx context.Context, list string) ([]int, error) {
	var ids []int
	found, err := h.get(ctx, "list", fmt.Sprintf("%s/%s.json", h.baseURL, list), &ids)
	if err != nil {
		return []int{}, fmt.Errorf("failed to fetch list %s: %w", list, err)
	}
	if !found || ids == nil {
		return []int{}, nil
	}
	return ids, nil
}

// FetchUser fetches a user record by id.
// Returns nil without an error when the user does not exist.
func (h *HackerNewsAPI) FetchUser(ctx context.Context, id string) (*models.RawUser, error) {
	var user models.RawUser
	found, err := h.get(ctx, "user", fmt.Sprintf("%s/user/%s.json", h.baseURL, url.PathEscape(id)), &user)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	if !found || user.ID == "" {
		return nil, nil
	}
	return &user, nil
}

// get performs a GET and decodes the JSON body into v.
// found is false for any non-200 status or a literal null body.
func (h *HackerNewsAPI) get(ctx context.Context, endpoint, target string, v interface{}) (found bool, err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		upstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	}()

	if err := h.rateLimiter.Wait(ctx); err != nil {
		outcome = "error"
		return false, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		outcome = "error"
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		outcome = "error"
		return false, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		outcome = "not_found"
		h.log.WithFields(logrus.Fields{
			"url":         target,
			"status_code": resp.StatusCode,
		}).Debug("Hacker News API returned non-success status")
		return false, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "error"
		return false, fmt.Errorf("failed to read response: %w", err)
	}

	// firebase answers unknown ids with 200 and a null body
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		outcome = "not_found"
		return false, nil
	}

	if err := json.Unmarshal(trimmed, v); err != nil {
		outcome = "error"
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	return true, nil
}
