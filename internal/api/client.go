// Package api is the HTTP boundary to the health-assistant service.
//
// Every response arrives in a {success, message, data} envelope. Transport
// failures (network, timeout, non-2xx) and application failures (the server
// answering success=false) are surfaced as distinct error codes so the sync
// engine can abort a round without guessing.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kaiwenho/healthsync/internal/cache"
	"github.com/kaiwenho/healthsync/internal/errors"
	"github.com/kaiwenho/healthsync/internal/models"
)

// DefaultTimeout bounds every request. There is no mid-round cancellation
// beyond this; a timeout aborts the round like any other transport failure.
const DefaultTimeout = 120 * time.Second

// statusCacheTTL bounds how long a sync-status read may be served from
// cache.
const statusCacheTTL = 30 * time.Second

// TokenProvider returns the current bearer token, or "" when the client is
// unauthenticated.
type TokenProvider func(ctx context.Context) (string, error)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   TokenProvider
	Timeout time.Duration // 0 means DefaultTimeout
}

// Client calls the remote sync endpoints.
type Client struct {
	baseURL string
	token   TokenProvider
	http    *http.Client
	cache   *cache.Cache
}

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		cache:   cache.New(),
	}
}

// envelope is the server's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// SyncStatusInfo is the server's view of this device's sync state.
type SyncStatusInfo struct {
	LastSyncTime   string               `json:"lastSyncTime"`
	UnsyncedCounts models.PendingCounts `json:"unsyncedCounts"`
}

// SyncPayload is the body of a push. Records stay raw: the payload may be
// built from the local pending ledger or from the server-reported unsynced
// set, and neither source needs re-typing here.
type SyncPayload struct {
	Messages    []json.RawMessage `json:"messages"`
	Advice      []json.RawMessage `json:"advice"`
	DietRecords []json.RawMessage `json:"dietRecords"`
}

// PushResult is the outcome of a push: either a clean acknowledgement or a
// batch of conflicts to resolve.
type PushResult struct {
	Conflicts []models.Conflict `json:"conflicts"`
}

// Status returns the server-side sync status for the device. Reads are
// cached briefly; pass fresh=true to bypass the cache.
func (c *Client) Status(ctx context.Context, deviceID string, fresh bool) (*SyncStatusInfo, error) {
	cacheKey := "sync_status_" + deviceID
	if !fresh {
		if cached, ok := c.cache.Get(cacheKey); ok {
			info := cached.(SyncStatusInfo)
			return &info, nil
		}
	}

	var info SyncStatusInfo
	if err := c.do(ctx, http.MethodGet, "/api/sync/status", deviceID, nil, &info); err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, info, statusCacheTTL)
	return &info, nil
}

// UnsyncedMessages fetches chat records the server has not seen from this
// device.
func (c *Client) UnsyncedMessages(ctx context.Context, deviceID string) ([]models.ChatMessage, error) {
	var records []models.ChatMessage
	if err := c.do(ctx, http.MethodGet, "/api/chat/unsynced", deviceID, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// UnsyncedAdvice fetches health advice the server has not seen from this
// device.
func (c *Client) UnsyncedAdvice(ctx context.Context, deviceID string) ([]models.HealthAdvice, error) {
	var records []models.HealthAdvice
	if err := c.do(ctx, http.MethodGet, "/api/health-advice/unsynced", deviceID, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// UnsyncedDietRecords fetches diet records the server has not seen from this
// device.
func (c *Client) UnsyncedDietRecords(ctx context.Context, deviceID string) ([]models.DietRecord, error) {
	var records []models.DietRecord
	if err := c.do(ctx, http.MethodGet, "/api/dietary-records/unsynced", deviceID, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// pushResponse is the body of a push acknowledgement. Conflicts ride at the
// top level of the body, next to the success flag, not inside data.
type pushResponse struct {
	Conflicts []models.Conflict `json:"conflicts"`
}

// PushSyncData sends a sync payload. The returned result carries any
// conflicts the server detected.
func (c *Client) PushSyncData(ctx context.Context, deviceID string, payload SyncPayload) (*PushResult, error) {
	body, err := c.doRaw(ctx, http.MethodPost, "/api/sync/data", deviceID, payload)
	if err != nil {
		return nil, err
	}

	var resp pushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(errors.ErrTransport, "POST /api/sync/data: malformed response", err)
	}
	return &PushResult{Conflicts: resp.Conflicts}, nil
}

// ResolveConflict reports a locally-applied conflict resolution back to the
// server.
func (c *Client) ResolveConflict(ctx context.Context, deviceID string, conflict models.Conflict) error {
	return c.do(ctx, http.MethodPost, "/api/sync/resolve-conflict", deviceID, conflict, nil)
}

// MarkSynced asks the server to flip this device's records to synced.
func (c *Client) MarkSynced(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodPost, "/api/sync/mark-synced", deviceID, nil, nil)
}

// UpdateDevice pushes device metadata to the server.
func (c *Client) UpdateDevice(ctx context.Context, deviceID string, info models.DeviceInfo) error {
	return c.do(ctx, http.MethodPut, "/api/sync/device", deviceID, info, nil)
}

// registerResponse is the payload of a successful device registration.
type registerResponse struct {
	DeviceID string `json:"device_id"`
}

// RegisterDevice asks the server for a device identity. Registration is the
// only endpoint not scoped by an existing device id.
func (c *Client) RegisterDevice(ctx context.Context) (string, error) {
	var resp registerResponse
	if err := c.do(ctx, http.MethodPost, "/api/devices/register", "", nil, &resp); err != nil {
		return "", err
	}
	if resp.DeviceID == "" {
		return "", errors.New(errors.ErrApplication, "registration response carried no device id")
	}
	return resp.DeviceID, nil
}

// do performs one request and decodes the envelope's data field into out.
func (c *Client) do(ctx context.Context, method, path, deviceID string, body, out interface{}) error {
	raw, err := c.doRaw(ctx, method, path, deviceID, body)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(errors.ErrTransport, fmt.Sprintf("%s %s: malformed response", method, path), err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrap(errors.ErrTransport, fmt.Sprintf("%s %s: malformed response data", method, path), err)
	}
	return nil
}

// doRaw performs one request, enforces the transport and envelope error
// policy, and returns the full response body.
func (c *Client) doRaw(ctx context.Context, method, path, deviceID string, body interface{}) ([]byte, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "invalid endpoint URL", err)
	}
	if deviceID != "" {
		q := u.Query()
		q.Set("device_id", deviceID)
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "failed to encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.ErrUnauthorized, "token provider failed", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.ErrTimeout, fmt.Sprintf("%s %s timed out", method, path), err)
		}
		return nil, errors.Wrap(errors.ErrTransport, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errors.Newf(errors.ErrUnauthorized, "%s %s: unauthorized", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf(errors.ErrTransport, "%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransport, fmt.Sprintf("%s %s: failed to read response", method, path), err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(errors.ErrTransport, fmt.Sprintf("%s %s: malformed response", method, path), err)
	}
	if !env.Success {
		return nil, errors.Newf(errors.ErrApplication, "%s %s: %s", method, path, env.Message)
	}

	return raw, nil
}
