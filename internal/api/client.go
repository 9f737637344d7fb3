// Package api implements the authenticated admin API client: token
// lifecycle, bounded in-flight request dispatch, retry policy and the typed
// endpoints the sync engine needs.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ohler55/ojg/oj"
	"golang.org/x/sync/semaphore"

	"github.com/shopsync/shopsync/internal/config"
	"github.com/shopsync/shopsync/internal/entity"
)

// DefaultInFlightLimit bounds concurrently outstanding requests unless
// overridden per command.
const DefaultInFlightLimit = 8

// DefaultTryCount is the total attempt budget per request.
const DefaultTryCount = 3

// Options tune one client instance.
type Options struct {
	// InFlightLimit caps concurrently outstanding requests. Waiters queue
	// FIFO on the gate.
	InFlightLimit int

	// TryCount is the total number of attempts per request, retries
	// included.
	TryCount int

	// RequestTimeout bounds a single attempt.
	RequestTimeout time.Duration

	// BackoffBase and BackoffCap parameterize the jittered exponential
	// backoff between retries.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (o *Options) fill(s config.Settings) {
	if o.InFlightLimit <= 0 {
		o.InFlightLimit = DefaultInFlightLimit
	}
	if o.TryCount <= 0 {
		o.TryCount = DefaultTryCount
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = s.RequestTimeout
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = s.BackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = s.BackoffCap
	}
}

// Client talks to one shop's admin API. All methods are safe for concurrent
// use; the token is the only mutable shared state and every mutation runs
// through the refresh machinery.
type Client struct {
	http  *http.Client
	base  string
	creds config.Credentials
	opts  Options
	gate  *semaphore.Weighted

	// token state machine: Unauthenticated -> Authenticating -> Ready ->
	// Refreshing -> Ready | Failed. "Authenticating" and "Refreshing" are
	// both represented by a non-nil refreshing channel; Failed is sticky.
	mu         sync.Mutex
	token      string
	tokenExp   time.Time
	refreshing chan struct{}
	failedErr  error
}

// New builds a client and proves the credentials by acquiring a token (a
// still-valid cached token from the credentials file is reused).
func New(ctx context.Context, creds config.Credentials, opts Options) (*Client, error) {
	opts.fill(config.LoadSettings())

	c := &Client{
		http: &http.Client{
			Timeout: opts.RequestTimeout,
			Transport: &http.Transport{
				// long-running requests poison pooled connections
				DisableKeepAlives: true,
			},
		},
		base:  strings.TrimRight(creds.BaseURL, "/"),
		creds: creds,
		opts:  opts,
		gate:  semaphore.NewWeighted(int64(opts.InFlightLimit)),
	}

	if creds.TokenValid(time.Now()) {
		c.token = creds.Token
		c.tokenExp = creds.TokenExpiresAt
		slog.Debug("reusing cached token", "expires_at", c.tokenExp)
	} else if _, err := c.acquireToken(ctx); err != nil {
		return nil, err
	}

	slog.Debug("api client ready", "in_flight_limit", opts.InFlightLimit, "try_count", opts.TryCount)
	return c, nil
}

// TokenState exposes the current token and its expiry so the command layer
// can persist it back into the credentials file.
func (c *Client) TokenState() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.tokenExp
}

// acquireToken returns the current token, starting or joining a refresh if
// none is valid. Concurrent callers observing an invalid token coalesce
// onto the single in-progress refresh.
func (c *Client) acquireToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	for {
		if c.failedErr != nil {
			c.mu.Unlock()
			return "", c.failedErr
		}
		if c.refreshing == nil {
			if c.token != "" && time.Now().Before(c.tokenExp) {
				token := c.token
				c.mu.Unlock()
				return token, nil
			}
			done := make(chan struct{})
			c.refreshing = done
			go c.refreshToken(done)
		}

		done := c.refreshing
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		c.mu.Lock()
	}
}

// invalidateToken drops the token a request just saw rejected, unless a
// refresh already replaced it.
func (c *Client) invalidateToken(stale string) {
	c.mu.Lock()
	if c.token == stale {
		c.token = ""
	}
	c.mu.Unlock()
}

// refreshToken performs the OAuth client-credentials exchange. It runs
// outside the request retry machinery: a refresh failure is fatal for the
// client, not a transient condition.
func (c *Client) refreshToken(done chan struct{}) {
	type authBody struct {
		GrantType    string `json:"grant_type"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	type authResponse struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}

	body, _ := json.Marshal(authBody{
		GrantType:    "client_credentials",
		ClientID:     c.creds.IntegrationID,
		ClientSecret: c.creds.IntegrationSecret,
	})

	var parsed authResponse
	err := func() error {
		resp, err := c.http.Post(c.base+"/api/oauth/token", "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("parsing token response: %w", err)
		}
		if parsed.AccessToken == "" {
			return errors.New("token response carried no access_token")
		}
		return nil
	}()

	c.mu.Lock()
	if err != nil {
		c.failedErr = fmt.Errorf("%w: %v", ErrAuth, err)
		slog.Error("token refresh failed", "error", err)
	} else {
		c.token = parsed.AccessToken
		c.tokenExp = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
		slog.Debug("token refreshed", "expires_in_s", parsed.ExpiresIn)
	}
	c.refreshing = nil
	c.mu.Unlock()
	close(done)
}

// request dispatches one API call under the in-flight gate with the full
// retry policy: transient failures (network errors, 5xx) back off
// exponentially with jitter within the attempt budget, a 401 triggers a
// coalesced token refresh and one extra attempt, other 4xx fail
// immediately. The raw response body is returned on success.
func (c *Client) request(ctx context.Context, method, path string, headers map[string]string, body []byte) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.BackoffBase
	bo.MaxInterval = c.opts.BackoffCap
	bo.MaxElapsedTime = 0

	var lastErr error
	authRetried := false
	for attempt := 1; attempt <= c.opts.TryCount; attempt++ {
		if attempt > 1 {
			wait := bo.NextBackOff()
			slog.Debug("retrying request", "path", path, "attempt", attempt, "backoff", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		raw, status, err := c.attempt(ctx, method, path, headers, body)
		switch {
		case err == nil && status < 300:
			return raw, nil

		case err == nil && status == http.StatusUnauthorized:
			// one-shot refresh-and-retry, not charged against the
			// transient budget more than once
			if authRetried {
				return nil, fmt.Errorf("%w: request rejected after token refresh", ErrAuth)
			}
			authRetried = true
			attempt--
			lastErr = &APIError{Status: status}

		case err == nil:
			apiErr := &APIError{Status: status}
			_ = json.Unmarshal(raw, &apiErr.Body)
			if !apiErr.Transient() {
				return nil, apiErr
			}
			lastErr = apiErr

		case errors.Is(err, context.Canceled) || errors.Is(err, ErrAuth):
			return nil, err

		default:
			// network-level failure, treated as transient (timeouts
			// included)
			lastErr = err
		}
	}

	return nil, fmt.Errorf("request %s failed after %d attempts: %w", path, c.opts.TryCount, lastErr)
}

// attempt performs a single HTTP exchange under the gate.
func (c *Client) attempt(ctx context.Context, method, path string, headers map[string]string, body []byte) ([]byte, int, error) {
	token, err := c.acquireToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer c.gate.Release(1)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	// plain JSON keeps association data inline on the entity objects
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	slog.Debug("request finished",
		"method", method, "path", path, "status", resp.StatusCode,
		"elapsed", time.Since(start).Round(time.Millisecond))

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken(token)
	}
	return raw, resp.StatusCode, nil
}

// kebab converts an entity name to the URL form the search endpoints
// expect: product_manufacturer -> product-manufacturer.
func kebab(entityName string) string {
	return strings.ReplaceAll(entityName, "_", "-")
}

// EntitySchema fetches the schema descriptor used for profile validation.
func (c *Client) EntitySchema(ctx context.Context) (Schema, error) {
	raw, err := c.request(ctx, http.MethodGet, "/api/_info/entity-schema.json", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching entity schema: %w", err)
	}

	var schema Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parsing entity schema: %w", err)
	}
	return schema, nil
}

// SearchResult is one page of a criteria search.
type SearchResult struct {
	Data  []entity.Entity
	Total int64
}

// Search runs a criteria search for one page of an entity type. Entity
// payloads can get large, so the body is parsed into dynamic values with
// ojg rather than through reflection.
func (c *Client) Search(ctx context.Context, entityName string, criteria *Criteria) (*SearchResult, error) {
	body, err := json.Marshal(criteria)
	if err != nil {
		return nil, fmt.Errorf("encoding criteria: %w", err)
	}

	raw, err := c.request(ctx, http.MethodPost, "/api/search/"+kebab(entityName), nil, body)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", entityName, err)
	}

	parsed, err := oj.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}
	doc, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("search response is not an object")
	}

	result := &SearchResult{}
	if total, ok := doc["total"].(int64); ok {
		result.Total = total
	}
	items, _ := doc["data"].([]any)
	result.Data = make([]entity.Entity, 0, len(items))
	for i, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("search record %d is not an object", i)
		}
		result.Data = append(result.Data, record)
	}
	return result, nil
}

// SearchTotal asks for the exact number of records matching the filter
// through a count aggregation, without transferring any records.
func (c *Client) SearchTotal(ctx context.Context, entityName string, filter []Filter) (int64, error) {
	body, err := json.Marshal(map[string]any{
		"limit":  1,
		"filter": filter,
		"aggregations": []map[string]any{
			{"name": "count", "type": "count", "field": "id"},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("encoding count criteria: %w", err)
	}

	raw, err := c.request(ctx, http.MethodPost, "/api/search/"+kebab(entityName), nil, body)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", entityName, err)
	}

	parsed, err := oj.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing count response: %w", err)
	}
	count, err := dig(parsed, "aggregations", "count", "count")
	if err != nil {
		return 0, fmt.Errorf("count response: %w", err)
	}
	n, ok := count.(int64)
	if !ok {
		return 0, fmt.Errorf("count aggregation is %T, not an integer", count)
	}
	return n, nil
}

func dig(doc any, keys ...string) (any, error) {
	current := doc
	for _, key := range keys {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("missing %q", key)
		}
		current, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("missing %q", key)
		}
	}
	return current, nil
}

// SyncUpsert submits one bulk upsert of records. The headers pin the
// server-side write behavior: one transactional operation, no inline
// indexing, no business flows.
func (c *Client) SyncUpsert(ctx context.Context, entityName string, records []entity.Entity) error {
	body, err := json.Marshal(map[string]any{
		"write_data": map[string]any{
			"entity":  entityName,
			"action":  "upsert",
			"payload": records,
		},
	})
	if err != nil {
		return fmt.Errorf("encoding sync payload: %w", err)
	}

	headers := map[string]string{
		"single-operation":     "1",
		"indexing-behavior":    "disable-indexing",
		"sw-skip-trigger-flow": "1",
	}
	if _, err := c.request(ctx, http.MethodPost, "/api/_action/sync", headers, body); err != nil {
		return fmt.Errorf("bulk upsert of %d %s records: %w", len(records), entityName, err)
	}
	return nil
}

// Index triggers asynchronous indexing of all registered indexers, minus
// the skipped ones.
func (c *Client) Index(ctx context.Context, skip []string) error {
	if skip == nil {
		skip = []string{}
	}
	body, err := json.Marshal(map[string]any{"skip": skip})
	if err != nil {
		return err
	}
	if _, err := c.request(ctx, http.MethodPost, "/api/_action/index", nil, body); err != nil {
		return fmt.Errorf("triggering indexing: %w", err)
	}
	return nil
}

// IsoRecord is one language or currency with its ISO code.
type IsoRecord struct {
	ID  string
	ISO string
}

// Languages lists all languages with their translation codes.
func (c *Client) Languages(ctx context.Context) ([]IsoRecord, error) {
	criteria := NewCriteria(1, config.MaxPageLimit)
	criteria.AddAssociation("locale")
	criteria.AddAssociation("translationCode")

	result, err := c.Search(ctx, "language", criteria)
	if err != nil {
		return nil, err
	}

	out := make([]IsoRecord, 0, len(result.Data))
	for _, record := range result.Data {
		rec := IsoRecord{}
		rec.ID, _ = record["id"].(string)
		if code, ok := record["translationCode"].(map[string]any); ok {
			rec.ISO, _ = code["code"].(string)
		}
		if rec.ISO == "" {
			if locale, ok := record["locale"].(map[string]any); ok {
				rec.ISO, _ = locale["code"].(string)
			}
		}
		if rec.ID != "" && rec.ISO != "" {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Currencies lists all currencies with their ISO codes.
func (c *Client) Currencies(ctx context.Context) ([]IsoRecord, error) {
	result, err := c.Search(ctx, "currency", NewCriteria(1, config.MaxPageLimit))
	if err != nil {
		return nil, err
	}

	out := make([]IsoRecord, 0, len(result.Data))
	for _, record := range result.Data {
		rec := IsoRecord{}
		rec.ID, _ = record["id"].(string)
		rec.ISO, _ = record["isoCode"].(string)
		if rec.ID != "" && rec.ISO != "" {
			out = append(out, rec)
		}
	}
	return out, nil
}
