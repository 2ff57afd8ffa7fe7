// Package geolocation looks up a best-effort location blob for an IP.
// Lookups are bounded; a failure or timeout never fails the caller's
// primary operation.
package geolocation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"members-service/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// Geolocator resolves an IP to an opaque serialized location, or nil when
// nothing could be determined.
type Geolocator interface {
	Lookup(ctx context.Context, ip string) (json.RawMessage, error)
}

type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	redis      *redis.Client
	logger     logger.Logger
}

// NewClient builds a geolocation client. The redis client is optional; when
// present, lookups are cached to spare the upstream service.
func NewClient(baseURL string, timeout time.Duration, redisClient *redis.Client, log logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		redis:      redisClient,
		logger:     log.WithFields(map[string]interface{}{"component": "geolocation"}),
	}
}

// Lookup fetches the location for ip, bounded by the configured timeout.
func (c *Client) Lookup(ctx context.Context, ip string) (json.RawMessage, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, nil
	}

	cacheKey := "geo:" + ip
	if c.redis != nil {
		if val, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
			return json.RawMessage(val), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.baseURL, ip), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geolocation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geolocation lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read geolocation response: %w", err)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("geolocation response is not valid JSON")
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, cacheKey, string(body), 24*time.Hour).Err(); err != nil {
			c.logger.Debug("failed to cache geolocation result", map[string]interface{}{
				"ip":    ip,
				"error": err.Error(),
			})
		}
	}

	return json.RawMessage(body), nil
}
