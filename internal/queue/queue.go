// Package queue implements the write path: writes that cannot be confirmed
// sent are persisted and replayed when connectivity returns. Callers get
// the QUEUED sentinel instead of an error, so a flaky network never blocks
// the user from proceeding.
package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	synerr "github.com/jnamaya/SAFi-sub001/internal/errors"
	"github.com/jnamaya/SAFi-sub001/internal/kv"
)

// Write outcome statuses. StatusQueued is the literal sentinel callers
// must check before treating Data as the real response payload.
const (
	StatusOK     = "OK"
	StatusQueued = "QUEUED"
)

// StorageKey holds the persisted queue (one JSON array, FIFO order).
const StorageKey = "write_queue"

// Entry states.
const (
	StatePending = "pending"
	StateDead    = "dead" // exhausted or irrecoverable; kept, never retried
)

// Entry is one unconfirmed write.
type Entry struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Timestamp int64             `json:"timestamp"`
	Attempts  int               `json:"attempts"`
	NotBefore int64             `json:"not_before,omitempty"` // unix ms; backoff gate
	State     string            `json:"state"`
	LastError string            `json:"last_error,omitempty"`
}

// WriteOutcome is the result of PostWithQueue.
type WriteOutcome struct {
	Status string
	Data   json.RawMessage // response body when Status == StatusOK
}

// Queued reports whether the write was accepted locally but not confirmed.
func (o *WriteOutcome) Queued() bool { return o != nil && o.Status == StatusQueued }

// HTTPClient is the transport dependency, satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config tunes retry scheduling.
type Config struct {
	MaxAttempts int           // flush attempts per entry before dead-letter
	BaseBackoff time.Duration // initial retry delay, doubled with jitter
	MaxInterval time.Duration
}

// Queue persists unconfirmed writes and replays them on flush.
type Queue struct {
	http   HTTPClient
	store  kv.Store
	online func() bool
	evict  func(context.Context) error // quota recovery, optional
	cfg    Config

	// OnDeadLetter is invoked when an entry is abandoned. Optional; used
	// to surface a non-blocking notification instead of retrying forever.
	OnDeadLetter func(Entry)

	now func() time.Time

	// mu serializes every load-modify-save cycle on the persisted blob.
	// Flush releases it while on the wire and reconciles by entry id
	// before saving, so a write queued mid-flush is never dropped.
	mu       sync.Mutex
	flushing bool
}

func New(client HTTPClient, store kv.Store, online func() bool, evict func(context.Context) error, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Minute
	}
	return &Queue{
		http:   client,
		store:  store,
		online: online,
		evict:  evict,
		cfg:    cfg,
		now:    time.Now,
	}
}

// PostWithQueue attempts the write online, queueing it on recoverable
// failure; when offline it queues immediately without touching the network.
// An irrecoverable response (4xx other than 408/429) is returned as an
// error instead of queued, since replaying it can never succeed; that is
// what lets callers roll back an optimistic edit. A cancelled context also
// surfaces directly: the caller aborted, so nothing is queued. The returned
// outcome carries the parsed response only on confirmed 2xx success.
func (q *Queue) PostWithQueue(ctx context.Context, url, method string, headers map[string]string, body string) (*WriteOutcome, error) {
	if !q.online() {
		q.enqueue(ctx, url, method, headers, body)
		return &WriteOutcome{Status: StatusQueued}, nil
	}

	data, err := q.attempt(ctx, Entry{URL: url, Method: method, Headers: headers, Body: body})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if synerr.IsIrrecoverable(err) || synerr.IsBadResponseFormat(err) {
			// A bad-format error means the server confirmed with 2xx but
			// sent an unusable body; replaying it would double the write.
			return nil, err
		}
		log.Debug().Err(err).Str("url", url).Str("method", method).Msg("queue: write failed, queueing")
		q.enqueue(ctx, url, method, headers, body)
		return &WriteOutcome{Status: StatusQueued}, nil
	}
	return &WriteOutcome{Status: StatusOK, Data: data}, nil
}

// Flush replays pending entries in enqueue order. Confirmed entries are
// removed; recoverable failures get their next backoff window; entries
// that exhaust MaxAttempts or hit an irrecoverable status are
// dead-lettered. Not transactional across entries: one entry's failure
// never rolls back another's success.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		return
	}
	q.flushing = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}()

	if !q.online() {
		return
	}

	q.mu.Lock()
	entries := q.load(ctx)
	q.mu.Unlock()
	if len(entries) == 0 {
		return
	}
	nowMs := q.now().UnixMilli()

	confirmed := make(map[string]bool)
	updated := make(map[string]Entry)
	for _, e := range entries {
		if e.State == StateDead || nowMs < e.NotBefore {
			continue
		}

		_, err := q.attempt(ctx, e)
		if err == nil || synerr.IsBadResponseFormat(err) {
			// A 2xx with an unusable body is still a confirmed write.
			flushSuccessTotal.Inc()
			confirmed[e.ID] = true
			continue
		}

		flushFailureTotal.Inc()
		e.Attempts++
		e.LastError = err.Error()
		if synerr.IsIrrecoverable(err) || e.Attempts >= q.cfg.MaxAttempts {
			e.State = StateDead
			deadLettersTotal.Inc()
			log.Warn().Str("url", e.URL).Str("method", e.Method).Int("attempts", e.Attempts).
				Str("error", e.LastError).Msg("queue: write dead-lettered")
			if q.OnDeadLetter != nil {
				q.OnDeadLetter(e)
			}
		} else {
			e.NotBefore = q.now().Add(retryDelay(q.cfg.BaseBackoff, q.cfg.MaxInterval, e.Attempts)).UnixMilli()
		}
		updated[e.ID] = e
	}
	if len(confirmed) == 0 && len(updated) == 0 {
		return
	}

	// The blob may have grown while the flush was on the wire. Reconcile
	// against the current state instead of saving the stale snapshot.
	q.mu.Lock()
	defer q.mu.Unlock()
	current := q.load(ctx)
	kept := current[:0]
	for _, e := range current {
		if confirmed[e.ID] {
			continue
		}
		if u, ok := updated[e.ID]; ok {
			e = u
		}
		kept = append(kept, e)
	}
	q.save(ctx, kept)
}

// Pending returns the entries still awaiting confirmation.
func (q *Queue) Pending(ctx context.Context) []Entry {
	var pending []Entry
	for _, e := range q.load(ctx) {
		if e.State == StatePending {
			pending = append(pending, e)
		}
	}
	return pending
}

// DeadLetters returns abandoned entries retained for inspection.
func (q *Queue) DeadLetters(ctx context.Context) []Entry {
	var dead []Entry
	for _, e := range q.load(ctx) {
		if e.State == StateDead {
			dead = append(dead, e)
		}
	}
	return dead
}

// ------------------------- internals -------------------------

// attempt performs one HTTP call for the entry. A 2xx returns the parsed
// body; everything else returns a classified error for the retry policy.
func (q *Queue) attempt(ctx context.Context, e Entry) (json.RawMessage, error) {
	var rdr io.Reader
	if e.Body != "" {
		rdr = strings.NewReader(e.Body)
	}
	req, err := http.NewRequestWithContext(ctx, e.Method, e.URL, rdr)
	if err != nil {
		return nil, synerr.ClassifyHTTPError(0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return nil, synerr.NewNetworkError(e.Method+" "+e.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, synerr.NewHTTPError(resp.StatusCode, strings.TrimSpace(string(body)), e.Method+" "+e.URL)
	}
	if len(body) > 0 && !json.Valid(body) {
		return nil, &synerr.BadResponseFormatError{ContentType: resp.Header.Get("Content-Type"), Reason: "write response is not valid JSON"}
	}
	return body, nil
}

func (q *Queue) enqueue(ctx context.Context, url, method string, headers map[string]string, body string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.load(ctx)
	entries = append(entries, Entry{
		ID:        uuid.NewString(),
		URL:       url,
		Method:    method,
		Headers:   headers,
		Body:      body,
		Timestamp: q.now().UnixMilli(),
		State:     StatePending,
	})
	queuedWritesTotal.Inc()
	q.save(ctx, entries)
}

func (q *Queue) load(ctx context.Context) []Entry {
	data, ok, err := q.store.Get(ctx, StorageKey)
	if err != nil || !ok {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt queue blob is unrecoverable; start fresh rather than wedge.
		log.Error().Err(err).Msg("queue: corrupt queue blob, resetting")
		return nil
	}
	return entries
}

func (q *Queue) save(ctx context.Context, entries []Entry) {
	data, err := json.Marshal(entries)
	if err != nil {
		log.Error().Err(err).Msg("queue: marshal failed")
		return
	}
	if err := kv.SetWithRecovery(ctx, q.store, StorageKey, data, q.evict); err != nil {
		// Accepted data loss: dropping this persist beats deadlocking storage.
		log.Error().Err(err).Int("entries", len(entries)).Msg("queue: persist failed, queue state lost")
	}
	queueDepth.Set(float64(len(entries)))
}

// retryDelay computes the jittered exponential delay for the nth attempt.
func retryDelay(base, max time.Duration, attempts int) time.Duration {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.MaxInterval = max
	exp.MaxElapsedTime = 0
	exp.Reset()
	d := exp.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = exp.NextBackOff()
	}
	return d
}
