// Package lifx provides access to the LIFX cloud HTTP API: directory
// snapshots, device writes, and the quota bookkeeping both need.
package lifx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrDeviceUnreachable wraps transport-level failures talking to the cloud
var ErrDeviceUnreachable = errors.New("lifx: device cloud unreachable")

// Client talks to the LIFX cloud API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// Outbound pacing plus header-fed quota accounting
	limiter *rate.Limiter
	quota   *QuotaTracker
}

// NewClient creates a new LIFX cloud client
func NewClient(baseURL, token string, timeout time.Duration, rateLimitRPS float64, quotaMax int) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if rateLimitRPS == 0 {
		rateLimitRPS = 2.0
	}
	if quotaMax == 0 {
		quotaMax = 120
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rateLimitRPS), int(rateLimitRPS)+1),
		quota:      NewQuotaTracker(quotaMax),
	}
}

// Quota exposes the tracker for callers that want to fail fast before
// building a request.
func (c *Client) Quota() *QuotaTracker {
	return c.quota
}

// Connect verifies the token by listing the directory once
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.ListLights(ctx, "all"); err != nil {
		return fmt.Errorf("failed to connect to LIFX cloud: %w", err)
	}
	log.Info().Str("base_url", c.baseURL).Msg("Connected to LIFX cloud")
	return nil
}

// Close closes the client
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// encodeSelector percent-encodes the zone pipe character for transport
func encodeSelector(selector string) string {
	return strings.ReplaceAll(selector, "|", "%7C")
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if err := c.quota.Reserve(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrDeviceUnreachable, method, path, err)
	}

	c.quota.UpdateFromHeaders(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		retryAfter := time.Minute
		if at := c.quotaResetAt(); !at.IsZero() {
			retryAfter = time.Until(at)
		}
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	return resp, nil
}

func (c *Client) quotaResetAt() time.Time {
	c.quota.mu.Lock()
	defer c.quota.mu.Unlock()
	return c.quota.resetAt
}

func decodeBody[T any](resp *http.Response) (T, error) {
	defer resp.Body.Close()

	var out T
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return out, fmt.Errorf("lifx: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// resultsEnvelope is the 207 multi-status body of write operations
type resultsEnvelope struct {
	Results []DeviceResult `json:"results"`
}

// ListLights returns the devices matching selector ("all" for the full directory)
func (c *Client) ListLights(ctx context.Context, selector string) ([]Device, error) {
	resp, err := c.request(ctx, http.MethodGet, "/lights/"+encodeSelector(selector), nil)
	if err != nil {
		return nil, err
	}
	return decodeBody[[]Device](resp)
}

// ListScenes returns all scenes on the account
func (c *Client) ListScenes(ctx context.Context) ([]Scene, error) {
	resp, err := c.request(ctx, http.MethodGet, "/scenes", nil)
	if err != nil {
		return nil, err
	}
	return decodeBody[[]Scene](resp)
}

// FetchSnapshot reads the full directory and builds an indexed snapshot
func (c *Client) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	devices, err := c.ListLights(ctx, "all")
	if err != nil {
		return nil, err
	}
	scenes, err := c.ListScenes(ctx)
	if err != nil {
		return nil, err
	}

	snap := BuildSnapshot(devices, scenes)
	log.Debug().
		Int("devices", len(devices)).
		Int("groups", len(snap.Groups)).
		Int("scenes", len(scenes)).
		Msg("Directory snapshot refreshed")
	return snap, nil
}

// SetState applies a state update to the devices matching selector
func (c *Client) SetState(ctx context.Context, selector string, st StateUpdate) ([]DeviceResult, error) {
	resp, err := c.request(ctx, http.MethodPut, "/lights/"+encodeSelector(selector)+"/state", st)
	if err != nil {
		return nil, err
	}
	env, err := decodeBody[resultsEnvelope](resp)
	if err != nil {
		return nil, err
	}
	return env.Results, nil
}

// Toggle flips power for the devices matching selector
func (c *Client) Toggle(ctx context.Context, selector string) ([]DeviceResult, error) {
	resp, err := c.request(ctx, http.MethodPost, "/lights/"+encodeSelector(selector)+"/toggle", nil)
	if err != nil {
		return nil, err
	}
	env, err := decodeBody[resultsEnvelope](resp)
	if err != nil {
		return nil, err
	}
	return env.Results, nil
}

// ActivateScene asks the cloud to activate a scene. Scenes keep their own
// transition timing unless duration is non-nil.
func (c *Client) ActivateScene(ctx context.Context, sceneUUID string, duration *float64) ([]DeviceResult, error) {
	var body any
	if duration != nil {
		body = map[string]float64{"duration": *duration}
	}
	resp, err := c.request(ctx, http.MethodPut, "/scenes/scene_id:"+sceneUUID+"/activate", body)
	if err != nil {
		return nil, err
	}
	env, err := decodeBody[resultsEnvelope](resp)
	if err != nil {
		return nil, err
	}
	return env.Results, nil
}
