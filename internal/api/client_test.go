package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/shopsync/internal/config"
	"github.com/shopsync/shopsync/internal/entity"
)

// fakeShop is a minimal admin API double. Handlers other than the token
// endpoint must be registered per test.
type fakeShop struct {
	mux        *http.ServeMux
	srv        *httptest.Server
	tokenCalls atomic.Int64
	token      atomic.Value // string
}

func newFakeShop(t *testing.T) *fakeShop {
	t.Helper()
	f := &fakeShop{mux: http.NewServeMux()}
	f.token.Store("token-1")
	f.mux.HandleFunc("POST /api/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "client_credentials", body["grant_type"])

		n := f.tokenCalls.Add(1)
		f.token.Store(fmt.Sprintf("token-%d", n))
		json.NewEncoder(w).Encode(map[string]any{
			"token_type":   "Bearer",
			"expires_in":   600,
			"access_token": f.token.Load(),
		})
	})
	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeShop) creds() config.Credentials {
	return config.Credentials{
		BaseURL:           f.srv.URL,
		IntegrationID:     "id",
		IntegrationSecret: "secret",
	}
}

func (f *fakeShop) client(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := New(context.Background(), f.creds(), opts)
	require.NoError(t, err)
	return c
}

func TestNewAuthenticates(t *testing.T) {
	shop := newFakeShop(t)
	c := shop.client(t, Options{})

	token, exp := c.TokenState()
	assert.Equal(t, "token-1", token)
	assert.Greater(t, exp, time.Now())
	assert.EqualValues(t, 1, shop.tokenCalls.Load())
}

func TestNewReusesCachedToken(t *testing.T) {
	shop := newFakeShop(t)
	creds := shop.creds()
	creds.Token = "cached"
	creds.TokenExpiresAt = time.Now().Add(10 * time.Minute)

	c, err := New(context.Background(), creds, Options{})
	require.NoError(t, err)

	token, _ := c.TokenState()
	assert.Equal(t, "cached", token)
	assert.EqualValues(t, 0, shop.tokenCalls.Load())
}

func TestNewBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors":[{"code":"invalid_client"}]}`)
	}))
	defer srv.Close()

	_, err := New(context.Background(), config.Credentials{
		BaseURL: srv.URL, IntegrationID: "id", IntegrationSecret: "bad",
	}, Options{})
	assert.ErrorIs(t, err, ErrAuth)
}

func TestRefreshOn401IsCoalesced(t *testing.T) {
	shop := newFakeShop(t)

	var rejected atomic.Int64
	shop.mux.HandleFunc("POST /api/search/product", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer token-1" {
			rejected.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"total": 0, "data": []any{}})
	})

	c := shop.client(t, Options{InFlightLimit: 16})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Search(context.Background(), "product", NewCriteria(1, 10))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// every concurrent 401 coalesced onto a single refresh
	assert.EqualValues(t, 2, shop.tokenCalls.Load())
	assert.GreaterOrEqual(t, rejected.Load(), int64(1))
}

func TestRetryOn5xxBounded(t *testing.T) {
	shop := newFakeShop(t)

	var calls atomic.Int64
	shop.mux.HandleFunc("POST /api/search/product", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"errors":[{"code":"FRAMEWORK__GATEWAY"}]}`)
	})

	c := shop.client(t, Options{TryCount: 3, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})

	_, err := c.Search(context.Background(), "product", NewCriteria(1, 10))
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.EqualValues(t, 3, calls.Load(), "no request is attempted more than try_count times")
}

func TestNoRetryOn4xx(t *testing.T) {
	shop := newFakeShop(t)

	var calls atomic.Int64
	shop.mux.HandleFunc("POST /api/_action/sync", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":[{"code":"CONTENT__INVALID","detail":"bad","source":{"pointer":"/write_data/0/name"}}]}`)
	})

	c := shop.client(t, Options{TryCount: 3, BackoffBase: time.Millisecond})

	err := c.SyncUpsert(context.Background(), "product", []entity.Entity{{"name": nil}})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Transient())
	require.Len(t, apiErr.Body.WriteFailures(), 1)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRetryRecovers(t *testing.T) {
	shop := newFakeShop(t)

	var calls atomic.Int64
	shop.mux.HandleFunc("POST /api/search/product", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"total": 1, "data": []any{map[string]any{"id": "a"}}})
	})

	c := shop.client(t, Options{TryCount: 3, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})

	result, err := c.Search(context.Background(), "product", NewCriteria(1, 10))
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Total)
	assert.EqualValues(t, 2, calls.Load())
}

func TestInFlightCap(t *testing.T) {
	shop := newFakeShop(t)

	const limit = 3
	var inFlight, peak atomic.Int64
	shop.mux.HandleFunc("POST /api/search/product", func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"total": 0, "data": []any{}})
	})

	c := shop.client(t, Options{InFlightLimit: limit})

	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Search(context.Background(), "product", NewCriteria(1, 10))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(limit))
}

func TestSearchKebabCasesEntity(t *testing.T) {
	shop := newFakeShop(t)

	shop.mux.HandleFunc("POST /api/search/product-manufacturer", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"total": 2,
			"data": []any{
				map[string]any{"id": "m1", "name": "Acme"},
				map[string]any{"id": "m2", "name": "Globex"},
			},
		})
	})

	c := shop.client(t, Options{})

	result, err := c.Search(context.Background(), "product_manufacturer", NewCriteria(1, 10))
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Total)
	require.Len(t, result.Data, 2)
	assert.Equal(t, "Acme", result.Data[0]["name"])
}

func TestSearchTotal(t *testing.T) {
	shop := newFakeShop(t)

	shop.mux.HandleFunc("POST /api/search/product", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotNil(t, body["aggregations"])

		fmt.Fprint(w, `{"total": 1, "data": [], "aggregations": {"count": {"count": 721}}}`)
	})

	c := shop.client(t, Options{})

	total, err := c.SearchTotal(context.Background(), "product", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 721, total)
}

func TestSyncUpsertHeadersAndBody(t *testing.T) {
	shop := newFakeShop(t)

	shop.mux.HandleFunc("POST /api/_action/sync", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("single-operation"))
		assert.Equal(t, "disable-indexing", r.Header.Get("indexing-behavior"))
		assert.Equal(t, "1", r.Header.Get("sw-skip-trigger-flow"))

		var body struct {
			WriteData struct {
				Entity  string          `json:"entity"`
				Action  string          `json:"action"`
				Payload []entity.Entity `json:"payload"`
			} `json:"write_data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "product", body.WriteData.Entity)
		assert.Equal(t, "upsert", body.WriteData.Action)
		assert.Len(t, body.WriteData.Payload, 2)

		fmt.Fprint(w, `{}`)
	})

	c := shop.client(t, Options{})

	err := c.SyncUpsert(context.Background(), "product", []entity.Entity{
		{"id": "a", "name": "one"},
		{"id": "b", "name": "two"},
	})
	require.NoError(t, err)
}

func TestIndex(t *testing.T) {
	shop := newFakeShop(t)

	shop.mux.HandleFunc("POST /api/_action/index", func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"product.indexer"}, body["skip"])
		fmt.Fprint(w, `{}`)
	})

	c := shop.client(t, Options{})
	require.NoError(t, c.Index(context.Background(), []string{"product.indexer"}))
}

func TestLanguagesAndCurrencies(t *testing.T) {
	shop := newFakeShop(t)

	shop.mux.HandleFunc("POST /api/search/language", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total": 2, "data": [
			{"id": "lang-en", "translationCode": {"code": "en-GB"}},
			{"id": "lang-de", "locale": {"code": "de-DE"}}
		]}`)
	})
	shop.mux.HandleFunc("POST /api/search/currency", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total": 1, "data": [{"id": "cur-eur", "isoCode": "EUR"}]}`)
	})

	c := shop.client(t, Options{})

	langs, err := c.Languages(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []IsoRecord{
		{ID: "lang-en", ISO: "en-GB"},
		{ID: "lang-de", ISO: "de-DE"},
	}, langs)

	curs, err := c.Currencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []IsoRecord{{ID: "cur-eur", ISO: "EUR"}}, curs)
}

func TestCancellationPropagates(t *testing.T) {
	shop := newFakeShop(t)

	started := make(chan struct{})
	shop.mux.HandleFunc("POST /api/search/product", func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background connection
		// watcher; otherwise the client disconnect never cancels
		// r.Context() and Server.Close deadlocks on this handler.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	})

	c := shop.client(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Search(ctx, "product", NewCriteria(1, 10))
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled request did not return")
	}
}
