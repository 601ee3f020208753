// Package httpcache implements the read path: GET through the network
// with the last good JSON response cached per full request URL, so reads
// keep working when connectivity drops.
package httpcache

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	synerr "github.com/jnamaya/SAFi-sub001/internal/errors"
	"github.com/jnamaya/SAFi-sub001/internal/kv"
)

// CachePrefix namespaces cached responses inside the key-value store.
const CachePrefix = "cache/"

// HTTPClient is the transport dependency, satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is a fetched (or cache-served) JSON body.
type Result struct {
	Data      json.RawMessage
	FromCache bool
}

// Fetcher resolves GETs against the network with cache fallback.
type Fetcher struct {
	http   HTTPClient
	store  kv.Store
	online func() bool
	evict  func(context.Context) error // quota recovery, optional
}

func NewFetcher(client HTTPClient, store kv.Store, online func() bool, evict func(context.Context) error) *Fetcher {
	return &Fetcher{http: client, store: store, online: online, evict: evict}
}

// FetchWithCache resolves url in this order:
//
//   - offline: cached value or ErrOfflineNoCache
//   - network failure: cached value or the network error
//   - 401: *UnauthorizedError (never the cache; the caller must re-auth)
//   - other non-2xx: *RequestFailedError with the body text verbatim
//   - 2xx non-JSON or unparseable: *BadResponseFormatError
//   - 2xx JSON: cached under the exact URL (query string included) and
//     returned fresh
func (f *Fetcher) FetchWithCache(ctx context.Context, url string) (Result, error) {
	key := CachePrefix + url

	if !f.online() {
		if data, ok := f.cached(ctx, key); ok {
			cacheHits.Inc()
			return Result{Data: data, FromCache: true}, nil
		}
		cacheMisses.Inc()
		return Result{}, synerr.ErrOfflineNoCache
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		// DNS, timeout, connection reset: fall back if we can.
		if data, ok := f.cached(ctx, key); ok {
			log.Debug().Err(err).Str("url", url).Msg("httpcache: network failure, serving cache")
			cacheHits.Inc()
			return Result{Data: data, FromCache: true}, nil
		}
		cacheMisses.Inc()
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return Result{}, &synerr.UnauthorizedError{Message: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &synerr.RequestFailedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if readErr != nil {
		return Result{}, readErr
	}

	ct := resp.Header.Get("Content-Type")
	if !isJSON(ct) {
		// A misconfigured proxy returning an HTML error page with 200.
		return Result{}, &synerr.BadResponseFormatError{ContentType: ct, Reason: "expected JSON"}
	}
	if !json.Valid(body) {
		return Result{}, &synerr.BadResponseFormatError{ContentType: ct, Reason: "response body is not valid JSON"}
	}

	if err := kv.SetWithRecovery(ctx, f.store, key, body, f.evict); err != nil {
		// Cache persistence is best-effort; the fresh data still flows.
		log.Warn().Err(err).Str("url", url).Msg("httpcache: failed to cache response")
	}
	return Result{Data: body, FromCache: false}, nil
}

func (f *Fetcher) cached(ctx context.Context, key string) (json.RawMessage, bool) {
	data, ok, err := f.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	if !json.Valid(data) {
		// Corrupt entries degrade to a miss.
		return nil, false
	}
	return data, true
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
